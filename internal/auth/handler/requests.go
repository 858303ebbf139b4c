package handler

import (
	"time"

	"authgate/internal/auth/models"
	"authgate/internal/auth/service"
)

type registerRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name,omitempty"`
}

func (r registerRequest) input() service.RegisterInput {
	return service.RegisterInput{
		Username: r.Username,
		Email:    r.Email,
		Password: r.Password,
		Name:     r.Name,
	}
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
}

func toTokenResponse(pair models.TokenPair) tokenResponse {
	return tokenResponse{
		AccessToken: pair.AccessToken,
		TokenType:   "bearer",
		ExpiresIn:   int64(pair.AccessExpiresIn / time.Second),
	}
}

// userResponse never carries the password hash.
type userResponse struct {
	ID              int64     `json:"id"`
	UUID            string    `json:"uuid"`
	Username        string    `json:"username"`
	Email           string    `json:"email"`
	Name            string    `json:"name"`
	IsVerified      bool      `json:"is_verified"`
	HasPassword     bool      `json:"has_password"`
	ProfileImageURL string    `json:"profile_image_url,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
}

func toUserResponse(u *models.User) userResponse {
	return userResponse{
		ID:              u.ID,
		UUID:            u.UUID.String(),
		Username:        u.Username,
		Email:           u.Email,
		Name:            u.Name,
		IsVerified:      u.IsVerified,
		HasPassword:     u.HasPassword(),
		ProfileImageURL: u.ProfileImageURL,
		CreatedAt:       u.Lifecycle.CreatedAt,
	}
}

type messageResponse struct {
	Message string `json:"message"`
}
