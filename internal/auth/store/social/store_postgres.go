package social

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"authgate/internal/auth/models"
	"authgate/internal/platform/database"
	"authgate/pkg/platform/sentinel"
)

// PostgresStore persists links in the social_accounts table.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const (
	linkColumns = `id, user_id, provider, provider_user_id, provider_email, access_token, refresh_token,
	token_expiry, provider_profile_image_url, created_at, updated_at`

	providerSubjectConstraint = "social_accounts_provider_subject_key"
)

func (s *PostgresStore) FindByProviderAndSubject(ctx context.Context, provider, subject string) (*models.SocialAccount, error) {
	query := `SELECT ` + linkColumns + ` FROM social_accounts WHERE provider = $1 AND provider_user_id = $2`
	link, err := scanLink(database.Conn(ctx, s.db).QueryRowContext(ctx, query, provider, subject))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("find link: %w", sentinel.ErrNotFound)
		}
		return nil, fmt.Errorf("find link: %w", err)
	}
	return link, nil
}

func (s *PostgresStore) FindByUserID(ctx context.Context, userID int64) ([]models.SocialAccount, error) {
	query := `SELECT ` + linkColumns + ` FROM social_accounts WHERE user_id = $1 ORDER BY id`
	rows, err := database.Conn(ctx, s.db).QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("list links: %w", err)
	}
	defer rows.Close()

	var out []models.SocialAccount
	for rows.Next() {
		link, err := scanLink(rows)
		if err != nil {
			return nil, fmt.Errorf("scan link: %w", err)
		}
		out = append(out, *link)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list links: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) Create(ctx context.Context, link *models.SocialAccount) (*models.SocialAccount, error) {
	if link == nil {
		return nil, fmt.Errorf("create link: link is required")
	}
	query := `
		INSERT INTO social_accounts (user_id, provider, provider_user_id, provider_email, access_token,
			refresh_token, token_expiry, provider_profile_image_url, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING ` + linkColumns
	created, err := scanLink(database.Conn(ctx, s.db).QueryRowContext(ctx, query,
		link.UserID, link.Provider, link.ProviderUserID, link.ProviderEmail, link.AccessToken,
		link.RefreshToken, link.TokenExpiry, link.ProviderProfileImageURL,
		link.Lifecycle.CreatedAt, link.Lifecycle.UpdatedAt,
	))
	if err != nil {
		if constraint, ok := database.UniqueConstraint(err); ok && constraint == providerSubjectConstraint {
			return nil, fmt.Errorf("create link: %w", sentinel.NewUniqueViolation(FieldProviderSubject))
		}
		return nil, fmt.Errorf("create link: %w", err)
	}
	return created, nil
}

func (s *PostgresStore) UpdateTokens(ctx context.Context, id int64, tokens models.ProviderTokens, now time.Time) (*models.SocialAccount, error) {
	query := `
		UPDATE social_accounts SET
			access_token = $2,
			refresh_token = COALESCE(NULLIF($3, ''), refresh_token),
			token_expiry = $4,
			updated_at = $5
		WHERE id = $1
		RETURNING ` + linkColumns
	updated, err := scanLink(database.Conn(ctx, s.db).QueryRowContext(ctx, query,
		id, tokens.AccessToken, tokens.RefreshToken, tokens.ExpiryFrom(now), now,
	))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("update link %d: %w", id, sentinel.ErrNotFound)
		}
		return nil, fmt.Errorf("update link %d: %w", id, err)
	}
	return updated, nil
}

func (s *PostgresStore) DeleteByUserAndProvider(ctx context.Context, userID int64, provider string) error {
	res, err := database.Conn(ctx, s.db).ExecContext(ctx,
		`DELETE FROM social_accounts WHERE user_id = $1 AND provider = $2`, userID, provider)
	if err != nil {
		return fmt.Errorf("delete link: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete link: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("delete link %s for user %d: %w", provider, userID, sentinel.ErrNotFound)
	}
	return nil
}

func (s *PostgresStore) DeleteByUserID(ctx context.Context, userID int64) error {
	if _, err := database.Conn(ctx, s.db).ExecContext(ctx,
		`DELETE FROM social_accounts WHERE user_id = $1`, userID); err != nil {
		return fmt.Errorf("delete links: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanLink(row rowScanner) (*models.SocialAccount, error) {
	var (
		link         models.SocialAccount
		email        sql.NullString
		access       sql.NullString
		refresh      sql.NullString
		expiry       sql.NullTime
		profileImage sql.NullString
	)
	err := row.Scan(
		&link.ID, &link.UserID, &link.Provider, &link.ProviderUserID, &email, &access, &refresh,
		&expiry, &profileImage, &link.Lifecycle.CreatedAt, &link.Lifecycle.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	link.ProviderEmail = email.String
	link.AccessToken = access.String
	link.RefreshToken = refresh.String
	link.ProviderProfileImageURL = profileImage.String
	if expiry.Valid {
		link.TokenExpiry = expiry.Time
	}
	return &link, nil
}
