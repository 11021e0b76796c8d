package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/prperemyshlev/step-sync-service/internal/domain"
	"github.com/prperemyshlev/step-sync-service/internal/utils"
	"github.com/prperemyshlev/step-sync-service/pkg/database"
)

const userColumns = `id, email, name, provider_id, access_token, refresh_token, token_expires_at, total_steps, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

// userRepository implements UserRepository interface
type userRepository struct {
	db     *database.Postgres
	cipher *utils.TokenCipher
}

// NewUserRepository creates a new user repository
func NewUserRepository(db *database.Postgres, cipher *utils.TokenCipher) UserRepository {
	if cipher == nil {
		cipher = &utils.TokenCipher{}
	}
	return &userRepository{db: db, cipher: cipher}
}

// Create creates a new user in the database
func (r *userRepository) Create(ctx context.Context, user *domain.User) error {
	query := `
		INSERT INTO users (id, email, name, provider_id, access_token, refresh_token, token_expires_at, total_steps, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`

	// Generate UUID if not provided
	if user.ID == "" {
		user.ID = uuid.New().String()
	}

	now := time.Now()
	if user.CreatedAt.IsZero() {
		user.CreatedAt = now
	}
	if user.UpdatedAt.IsZero() {
		user.UpdatedAt = now
	}

	accessToken, err := r.sealNullable(user.AccessToken)
	if err != nil {
		return err
	}
	refreshToken, err := r.sealNullable(user.RefreshToken)
	if err != nil {
		return err
	}

	_, err = r.db.DB.ExecContext(ctx, query,
		user.ID,
		user.Email,
		user.Name,
		nullString(user.ProviderID),
		accessToken,
		refreshToken,
		nullMillis(user.TokenExpiresAt),
		user.TotalSteps,
		user.CreatedAt,
		user.UpdatedAt,
	)

	if err != nil {
		if constraint, ok := isUniqueViolation(err); ok {
			if constraint == providerIDConstraint {
				return fmt.Errorf("user with provider id already exists: %w", ErrDuplicateProviderID)
			}
			return fmt.Errorf("user with email %s already exists: %w", user.Email, ErrDuplicateEmail)
		}
		return fmt.Errorf("failed to create user: %w", err)
	}

	return nil
}

// GetByID retrieves a user by ID
func (r *userRepository) GetByID(ctx context.Context, id string) (*domain.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1`

	user, err := r.scanUser(r.db.DB.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) || isInvalidID(err) {
			return nil, fmt.Errorf("user with id %s not found: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get user by id: %w", err)
	}

	return user, nil
}

// GetByEmail retrieves a user by email, ignoring case
func (r *userRepository) GetByEmail(ctx context.Context, email string) (*domain.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE LOWER(email) = LOWER($1)`

	user, err := r.scanUser(r.db.DB.QueryRowContext(ctx, query, email))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("user with email %s not found: %w", email, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get user by email: %w", err)
	}

	return user, nil
}

// GetByProviderID retrieves a user by the linked google account id
func (r *userRepository) GetByProviderID(ctx context.Context, providerID string) (*domain.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE provider_id = $1`

	user, err := r.scanUser(r.db.DB.QueryRowContext(ctx, query, providerID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("user with provider id %s not found: %w", providerID, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get user by provider id: %w", err)
	}

	return user, nil
}

// UpdateAccessToken stores a refreshed access token and its expiry
func (r *userRepository) UpdateAccessToken(ctx context.Context, userID, accessToken string, expiresAt time.Time) error {
	query := `
		UPDATE users
		SET access_token = $2, token_expires_at = $3, updated_at = NOW()
		WHERE id = $1
	`

	sealed, err := r.cipher.Encrypt(accessToken)
	if err != nil {
		return fmt.Errorf("failed to encrypt access token: %w", err)
	}

	result, err := r.db.DB.ExecContext(ctx, query, userID, sealed, expiresAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to update access token: %w", err)
	}

	return requireAffected(result, userID)
}

// UpdateCredentials links providerID and stores new tokens, keeping the stored refresh token
// when none is supplied
func (r *userRepository) UpdateCredentials(ctx context.Context, userID, providerID, accessToken string, refreshToken *string, expiresAt time.Time) error {
	query := `
		UPDATE users
		SET provider_id = $2,
		    access_token = $3,
		    refresh_token = COALESCE($4, refresh_token),
		    token_expires_at = $5,
		    updated_at = NOW()
		WHERE id = $1
	`

	sealedAccess, err := r.cipher.Encrypt(accessToken)
	if err != nil {
		return fmt.Errorf("failed to encrypt access token: %w", err)
	}

	var sealedRefresh sql.NullString
	if refreshToken != nil && *refreshToken != "" {
		v, err := r.cipher.Encrypt(*refreshToken)
		if err != nil {
			return fmt.Errorf("failed to encrypt refresh token: %w", err)
		}
		sealedRefresh = sql.NullString{String: v, Valid: true}
	}

	result, err := r.db.DB.ExecContext(ctx, query, userID, providerID, sealedAccess, sealedRefresh, expiresAt.UnixMilli())
	if err != nil {
		if _, ok := isUniqueViolation(err); ok {
			return fmt.Errorf("provider id %s is linked to another user: %w", providerID, ErrDuplicateProviderID)
		}
		return fmt.Errorf("failed to update credentials: %w", err)
	}

	return requireAffected(result, userID)
}

// ListAll returns every user
func (r *userRepository) ListAll(ctx context.Context) ([]*domain.User, error) {
	query := `SELECT ` + userColumns + ` FROM users ORDER BY created_at ASC`

	rows, err := r.db.DB.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	defer rows.Close()

	var users []*domain.User
	for rows.Next() {
		user, err := r.scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		users = append(users, user)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate users: %w", err)
	}

	return users, nil
}

// ListLeaderboard returns the top users by total steps
func (r *userRepository) ListLeaderboard(ctx context.Context, limit int) ([]*domain.LeaderboardEntry, error) {
	query := `
		SELECT id, name, total_steps
		FROM users
		ORDER BY total_steps DESC, name ASC
		LIMIT $1
	`

	rows, err := r.db.DB.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list leaderboard: %w", err)
	}
	defer rows.Close()

	entries := make([]*domain.LeaderboardEntry, 0, limit)
	for rows.Next() {
		entry := &domain.LeaderboardEntry{Rank: len(entries) + 1}
		if err := rows.Scan(&entry.UserID, &entry.Name, &entry.TotalSteps); err != nil {
			return nil, fmt.Errorf("failed to scan leaderboard entry: %w", err)
		}
		entries = append(entries, entry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate leaderboard: %w", err)
	}

	return entries, nil
}

func (r *userRepository) scanUser(row rowScanner) (*domain.User, error) {
	user := &domain.User{}
	var providerID, accessToken, refreshToken sql.NullString
	var expiresAt sql.NullInt64

	err := row.Scan(
		&user.ID,
		&user.Email,
		&user.Name,
		&providerID,
		&accessToken,
		&refreshToken,
		&expiresAt,
		&user.TotalSteps,
		&user.CreatedAt,
		&user.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if providerID.Valid {
		user.ProviderID = &providerID.String
	}
	if user.AccessToken, err = r.openNullable(accessToken); err != nil {
		return nil, err
	}
	if user.RefreshToken, err = r.openNullable(refreshToken); err != nil {
		return nil, err
	}
	if expiresAt.Valid {
		t := time.UnixMilli(expiresAt.Int64).UTC()
		user.TokenExpiresAt = &t
	}

	return user, nil
}

func (r *userRepository) sealNullable(v *string) (sql.NullString, error) {
	if v == nil {
		return sql.NullString{}, nil
	}
	sealed, err := r.cipher.Encrypt(*v)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("failed to encrypt token: %w", err)
	}
	return sql.NullString{String: sealed, Valid: true}, nil
}

func (r *userRepository) openNullable(v sql.NullString) (*string, error) {
	if !v.Valid {
		return nil, nil
	}
	opened, err := r.cipher.Decrypt(v.String)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt token: %w", err)
	}
	return &opened, nil
}

func nullString(v *string) sql.NullString {
	if v == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *v, Valid: true}
}

func nullMillis(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixMilli(), Valid: true}
}

func requireAffected(result sql.Result, userID string) error {
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return fmt.Errorf("user with id %s not found: %w", userID, ErrNotFound)
	}

	return nil
}
