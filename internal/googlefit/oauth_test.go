package googlefit

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prperemyshlev/step-sync-service/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestTokenClient(t *testing.T, handler http.HandlerFunc) *TokenClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewTokenClient(srv.Client(), TokenClientConfig{
		ClientID:     "client-id",
		ClientSecret: "client-secret",
		TokenURL:     srv.URL,
		Timeout:      2 * time.Second,
	}, zap.NewNop())
}

func TestRefreshAccessToken(t *testing.T) {
	client := newTestTokenClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/x-www-form-urlencoded", r.Header.Get("Content-Type"))
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "client-id", r.PostForm.Get("client_id"))
		assert.Equal(t, "client-secret", r.PostForm.Get("client_secret"))
		assert.Equal(t, "1//refresh", r.PostForm.Get("refresh_token"))
		assert.Equal(t, "refresh_token", r.PostForm.Get("grant_type"))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token": "ya29.new", "expires_in": 3599, "token_type": "Bearer"}`))
	})

	token, err := client.RefreshAccessToken(context.Background(), "1//refresh")
	require.NoError(t, err)
	assert.Equal(t, "ya29.new", token.AccessToken)
	assert.Equal(t, 3599*time.Second, token.ExpiresIn)
}

func TestRefreshAccessTokenDefaultsExpiry(t *testing.T) {
	client := newTestTokenClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"access_token": "ya29.new"}`))
	})

	token, err := client.RefreshAccessToken(context.Background(), "1//refresh")
	require.NoError(t, err)

	now := time.Date(2026, 3, 15, 8, 0, 0, 0, time.UTC)
	assert.Equal(t, now.Add(time.Hour), token.ExpiresAt(now))
}

func TestRefreshAccessTokenInvalidGrant(t *testing.T) {
	client := newTestTokenClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error": "invalid_grant", "error_description": "Token has been expired or revoked."}`))
	})

	_, err := client.RefreshAccessToken(context.Background(), "1//revoked")
	assert.ErrorIs(t, err, domain.ErrRefreshRevoked)
}

func TestRefreshAccessTokenOtherFailure(t *testing.T) {
	client := newTestTokenClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error": "invalid_client", "error_description": "The OAuth client was not found."}`))
	})

	_, err := client.RefreshAccessToken(context.Background(), "1//refresh")

	var refreshErr *domain.RefreshFailedError
	require.True(t, errors.As(err, &refreshErr))
	assert.Equal(t, "The OAuth client was not found.", refreshErr.Message)
	assert.False(t, domain.IsTerminalCredentialError(err))
}

func TestRefreshAccessTokenServerError(t *testing.T) {
	var calls atomic.Int32
	client := newTestTokenClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	})

	_, err := client.RefreshAccessToken(context.Background(), "1//refresh")

	var refreshErr *domain.RefreshFailedError
	require.True(t, errors.As(err, &refreshErr))
	assert.Contains(t, refreshErr.Message, "503")
	assert.Equal(t, int32(1), calls.Load())
}

func TestRefreshAccessTokenEmptyToken(t *testing.T) {
	client := newTestTokenClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"expires_in": 3600}`))
	})

	_, err := client.RefreshAccessToken(context.Background(), "1//refresh")

	var refreshErr *domain.RefreshFailedError
	assert.True(t, errors.As(err, &refreshErr))
}

func TestRefreshAccessTokenTransportFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	tokenURL := srv.URL
	srv.Close()

	client := NewTokenClient(nil, TokenClientConfig{TokenURL: tokenURL, Timeout: time.Second}, zap.NewNop())

	_, err := client.RefreshAccessToken(context.Background(), "1//refresh")

	var refreshErr *domain.RefreshFailedError
	assert.True(t, errors.As(err, &refreshErr))
}
