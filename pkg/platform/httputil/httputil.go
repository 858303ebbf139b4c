// Package httputil writes JSON responses and maps domain errors onto HTTP.
package httputil

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	dErrors "authgate/pkg/domain-errors"
)

const maxBodyBytes = 1 << 20

// errorResponse is the wire shape of every error body.
type errorResponse struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description,omitempty"`
}

// WriteJSON writes v with the given status. Encoding failures are not reported
// because the header is already sent.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(v)
}

// WriteError maps err to a status and stable error code. Internal errors never
// expose their description.
func WriteError(w http.ResponseWriter, err error) {
	code := dErrors.CodeOf(err)
	status := StatusFor(code)

	resp := errorResponse{Error: string(code)}
	switch code {
	case dErrors.CodeInternal:
	case dErrors.CodeOrphanedLink:
		// integrity faults surface as plain not-found
		resp.Error = string(dErrors.CodeNotFound)
		resp.ErrorDescription = "user not found"
	default:
		resp.ErrorDescription = dErrors.MessageOf(err)
	}
	if code == dErrors.CodeProviderUnavailable {
		w.Header().Set("Retry-After", "5")
	}
	WriteJSON(w, status, resp)
}

// StatusFor returns the HTTP status for a domain code.
func StatusFor(code dErrors.Code) int {
	switch code {
	case dErrors.CodeBadRequest, dErrors.CodeValidation, dErrors.CodeWeakPassword:
		return http.StatusBadRequest
	case dErrors.CodeUnauthorized, dErrors.CodeInvalidCredentials, dErrors.CodeInvalidToken:
		return http.StatusUnauthorized
	case dErrors.CodeIncompleteIdentity:
		return http.StatusForbidden
	case dErrors.CodeNotFound, dErrors.CodeOrphanedLink:
		return http.StatusNotFound
	case dErrors.CodeConflict, dErrors.CodeEmailExists, dErrors.CodeUsernameExists:
		return http.StatusConflict
	case dErrors.CodeInvariantViolation:
		return http.StatusUnprocessableEntity
	case dErrors.CodeProviderUnavailable:
		return http.StatusServiceUnavailable
	case dErrors.CodeTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// DecodeJSON decodes a bounded request body into dst, rejecting unknown fields.
func DecodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return dErrors.New(dErrors.CodeBadRequest, "request body is empty")
		}
		return dErrors.Wrap(err, dErrors.CodeBadRequest, "invalid request body")
	}
	return nil
}
