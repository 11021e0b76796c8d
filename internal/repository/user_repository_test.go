package repository

import (
	"bytes"
	"context"
	"database/sql/driver"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/prperemyshlev/step-sync-service/internal/domain"
	"github.com/prperemyshlev/step-sync-service/internal/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var userRowColumns = []string{
	"id", "email", "name", "provider_id", "access_token", "refresh_token",
	"token_expires_at", "total_steps", "created_at", "updated_at",
}

type encryptedArg struct{}

func (encryptedArg) Match(v driver.Value) bool {
	s, ok := v.(string)
	return ok && strings.HasPrefix(s, "enc:v1:")
}

func TestGetByIDScansCredentials(t *testing.T) {
	pg, mock := newMockDB(t)
	repo := NewUserRepository(pg, nil)
	expires := time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)
	now := time.Now()

	mock.ExpectQuery(`SELECT id, email, name, provider_id, .* FROM users WHERE id = \$1`).
		WithArgs(testUserID).
		WillReturnRows(sqlmock.NewRows(userRowColumns).
			AddRow(testUserID, "walker@example.com", "Walker", "g-123", "ya29.a", "1//r", expires.UnixMilli(), 7423, now, now))

	user, err := repo.GetByID(context.Background(), testUserID)
	require.NoError(t, err)
	require.NotNil(t, user.AccessToken)
	assert.Equal(t, "ya29.a", *user.AccessToken)
	assert.Equal(t, "1//r", *user.RefreshToken)
	assert.Equal(t, "g-123", *user.ProviderID)
	require.NotNil(t, user.TokenExpiresAt)
	assert.True(t, expires.Equal(*user.TokenExpiresAt))
	assert.Equal(t, int64(7423), user.TotalSteps)
}

func TestGetByIDNullCredentials(t *testing.T) {
	pg, mock := newMockDB(t)
	repo := NewUserRepository(pg, nil)
	now := time.Now()

	mock.ExpectQuery(`FROM users WHERE id = \$1`).
		WithArgs(testUserID).
		WillReturnRows(sqlmock.NewRows(userRowColumns).
			AddRow(testUserID, "walker@example.com", "Walker", nil, nil, nil, nil, 0, now, now))

	user, err := repo.GetByID(context.Background(), testUserID)
	require.NoError(t, err)
	assert.Nil(t, user.ProviderID)
	assert.Nil(t, user.AccessToken)
	assert.Nil(t, user.RefreshToken)
	assert.Nil(t, user.TokenExpiresAt)
	assert.False(t, user.HasAccessToken())
}

func TestGetByIDNotFound(t *testing.T) {
	pg, mock := newMockDB(t)
	repo := NewUserRepository(pg, nil)

	mock.ExpectQuery(`FROM users WHERE id = \$1`).
		WithArgs(testUserID).
		WillReturnRows(sqlmock.NewRows(userRowColumns))

	_, err := repo.GetByID(context.Background(), testUserID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestGetByEmailIgnoresCase(t *testing.T) {
	pg, mock := newMockDB(t)
	repo := NewUserRepository(pg, nil)
	now := time.Now()

	mock.ExpectQuery(`FROM users WHERE LOWER\(email\) = LOWER\(\$1\)`).
		WithArgs("Walker@Example.com").
		WillReturnRows(sqlmock.NewRows(userRowColumns).
			AddRow(testUserID, "walker@example.com", "Walker", nil, nil, nil, nil, 0, now, now))

	user, err := repo.GetByEmail(context.Background(), "Walker@Example.com")
	require.NoError(t, err)
	assert.Equal(t, testUserID, user.ID)
}

func TestCreateDuplicateProviderID(t *testing.T) {
	pg, mock := newMockDB(t)
	repo := NewUserRepository(pg, nil)
	providerID := "g-123"

	mock.ExpectExec(`INSERT INTO users`).
		WillReturnError(&pq.Error{Code: pqUniqueViolation, Constraint: providerIDConstraint})

	err := repo.Create(context.Background(), &domain.User{Email: "a@example.com", ProviderID: &providerID})
	assert.ErrorIs(t, err, ErrDuplicateProviderID)
}

func TestCreateDuplicateEmail(t *testing.T) {
	pg, mock := newMockDB(t)
	repo := NewUserRepository(pg, nil)

	mock.ExpectExec(`INSERT INTO users`).
		WillReturnError(&pq.Error{Code: pqUniqueViolation, Constraint: "users_email_lower_key"})

	user := &domain.User{Email: "a@example.com"}
	err := repo.Create(context.Background(), user)
	assert.ErrorIs(t, err, ErrDuplicateEmail)
	assert.NotEmpty(t, user.ID)
}

func TestUpdateCredentialsKeepsRefreshTokenWhenMissing(t *testing.T) {
	pg, mock := newMockDB(t)
	repo := NewUserRepository(pg, nil)
	expires := time.Date(2026, 3, 15, 13, 0, 0, 0, time.UTC)

	mock.ExpectExec(`refresh_token = COALESCE\(\$4, refresh_token\)`).
		WithArgs(testUserID, "g-123", "ya29.new", nil, expires.UnixMilli()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.UpdateCredentials(context.Background(), testUserID, "g-123", "ya29.new", nil, expires)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateCredentialsEmptyRefreshTokenIsIgnored(t *testing.T) {
	pg, mock := newMockDB(t)
	repo := NewUserRepository(pg, nil)
	expires := time.Date(2026, 3, 15, 13, 0, 0, 0, time.UTC)
	empty := ""

	mock.ExpectExec(`UPDATE users`).
		WithArgs(testUserID, "g-123", "ya29.new", nil, expires.UnixMilli()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.UpdateCredentials(context.Background(), testUserID, "g-123", "ya29.new", &empty, expires)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateAccessTokenEncryptsAtRest(t *testing.T) {
	pg, mock := newMockDB(t)
	cipher, err := utils.NewTokenCipher(bytes.Repeat([]byte{7}, 32))
	require.NoError(t, err)
	repo := NewUserRepository(pg, cipher)
	expires := time.Date(2026, 3, 15, 13, 0, 0, 0, time.UTC)

	mock.ExpectExec(`UPDATE users\s+SET access_token = \$2, token_expires_at = \$3`).
		WithArgs(testUserID, encryptedArg{}, expires.UnixMilli()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err = repo.UpdateAccessToken(context.Background(), testUserID, "ya29.secret", expires)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateAccessTokenUnknownUser(t *testing.T) {
	pg, mock := newMockDB(t)
	repo := NewUserRepository(pg, nil)

	mock.ExpectExec(`UPDATE users`).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.UpdateAccessToken(context.Background(), testUserID, "ya29", time.Now().Add(time.Hour))
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListLeaderboardRanks(t *testing.T) {
	pg, mock := newMockDB(t)
	repo := NewUserRepository(pg, nil)

	mock.ExpectQuery(`SELECT id, name, total_steps\s+FROM users\s+ORDER BY total_steps DESC, name ASC\s+LIMIT \$1`).
		WithArgs(3).
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "total_steps"}).
			AddRow("u1", "Ada", 12000).
			AddRow("u2", "Bo", 9000))

	entries, err := repo.ListLeaderboard(context.Background(), 3)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, 1, entries[0].Rank)
	assert.Equal(t, 2, entries[1].Rank)
	assert.Equal(t, int64(9000), entries[1].TotalSteps)
}
