package user

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"authgate/internal/auth/models"
	"authgate/internal/platform/database"
	"authgate/pkg/platform/sentinel"
)

// PostgresStore persists users in PostgreSQL. Uniqueness of live emails and
// usernames is enforced by partial unique indexes.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const userColumns = `id, uuid, username, email, name, hashed_password, is_verified, profile_image_url,
	created_at, updated_at, deleted_at, is_deleted`

var constraintFields = map[string]string{
	"users_email_live_key":    FieldEmail,
	"users_username_live_key": FieldUsername,
	"users_uuid_key":          FieldUUID,
}

func (s *PostgresStore) FindByID(ctx context.Context, id int64) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1 AND NOT is_deleted`
	return s.findOne(ctx, "find user by id", query, id)
}

func (s *PostgresStore) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE email = $1 AND NOT is_deleted`
	return s.findOne(ctx, "find user by email", query, email)
}

func (s *PostgresStore) FindByUsername(ctx context.Context, username string) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE username = $1 AND NOT is_deleted`
	return s.findOne(ctx, "find user by username", query, username)
}

func (s *PostgresStore) ExistsByEmail(ctx context.Context, email string) (bool, error) {
	return s.exists(ctx, "email exists", `SELECT EXISTS (SELECT 1 FROM users WHERE email = $1 AND NOT is_deleted)`, email)
}

func (s *PostgresStore) ExistsByUsername(ctx context.Context, username string) (bool, error) {
	return s.exists(ctx, "username exists", `SELECT EXISTS (SELECT 1 FROM users WHERE username = $1 AND NOT is_deleted)`, username)
}

func (s *PostgresStore) Create(ctx context.Context, u *models.User) (*models.User, error) {
	if u == nil {
		return nil, fmt.Errorf("create user: user is required")
	}
	query := `
		INSERT INTO users (uuid, username, email, name, hashed_password, is_verified, profile_image_url,
			created_at, updated_at, deleted_at, is_deleted)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING ` + userColumns
	created, err := scanUser(database.Conn(ctx, s.db).QueryRowContext(ctx, query,
		u.UUID, u.Username, u.Email, u.Name, u.PasswordHash, u.IsVerified, u.ProfileImageURL,
		u.Lifecycle.CreatedAt, u.Lifecycle.UpdatedAt, u.Lifecycle.DeletedAt, u.Lifecycle.IsDeleted,
	))
	if err != nil {
		return nil, fmt.Errorf("create user: %w", mapWriteError(err))
	}
	return created, nil
}

func (s *PostgresStore) Update(ctx context.Context, u *models.User) (*models.User, error) {
	if u == nil {
		return nil, fmt.Errorf("update user: user is required")
	}
	query := `
		UPDATE users SET
			username = $2,
			email = $3,
			name = $4,
			hashed_password = $5,
			is_verified = $6,
			profile_image_url = $7,
			updated_at = $8,
			deleted_at = $9,
			is_deleted = $10
		WHERE id = $1 AND NOT is_deleted
		RETURNING ` + userColumns
	updated, err := scanUser(database.Conn(ctx, s.db).QueryRowContext(ctx, query,
		u.ID, u.Username, u.Email, u.Name, u.PasswordHash, u.IsVerified, u.ProfileImageURL,
		u.Lifecycle.UpdatedAt, u.Lifecycle.DeletedAt, u.Lifecycle.IsDeleted,
	))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("update user %d: %w", u.ID, sentinel.ErrNotFound)
		}
		return nil, fmt.Errorf("update user %d: %w", u.ID, mapWriteError(err))
	}
	return updated, nil
}

func (s *PostgresStore) findOne(ctx context.Context, op, query string, arg any) (*models.User, error) {
	u, err := scanUser(database.Conn(ctx, s.db).QueryRowContext(ctx, query, arg))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%s: %w", op, sentinel.ErrNotFound)
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return u, nil
}

func (s *PostgresStore) exists(ctx context.Context, op, query string, arg any) (bool, error) {
	var ok bool
	if err := database.Conn(ctx, s.db).QueryRowContext(ctx, query, arg).Scan(&ok); err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	return ok, nil
}

func mapWriteError(err error) error {
	if constraint, ok := database.UniqueConstraint(err); ok {
		if field, known := constraintFields[constraint]; known {
			return sentinel.NewUniqueViolation(field)
		}
		return sentinel.ErrAlreadyUsed
	}
	return err
}

func scanUser(row *sql.Row) (*models.User, error) {
	var (
		u         models.User
		hash      sql.NullString
		deletedAt sql.NullTime
	)
	err := row.Scan(
		&u.ID, &u.UUID, &u.Username, &u.Email, &u.Name, &hash, &u.IsVerified, &u.ProfileImageURL,
		&u.Lifecycle.CreatedAt, &u.Lifecycle.UpdatedAt, &deletedAt, &u.Lifecycle.IsDeleted,
	)
	if err != nil {
		return nil, err
	}
	if hash.Valid {
		h := hash.String
		u.PasswordHash = &h
	}
	if deletedAt.Valid {
		t := deletedAt.Time
		u.Lifecycle.DeletedAt = &t
	}
	return &u, nil
}
