package googlefit

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/prperemyshlev/step-sync-service/internal/domain"
	"go.uber.org/zap"
)

const (
	// DefaultTokenURL is the Google OAuth 2.0 token endpoint
	DefaultTokenURL = "https://oauth2.googleapis.com/token"

	errInvalidGrant = "invalid_grant"
)

// TokenClientConfig configures the token endpoint client
type TokenClientConfig struct {
	ClientID     string
	ClientSecret string
	TokenURL     string
	Timeout      time.Duration
}

// TokenClient exchanges refresh tokens for new access tokens
type TokenClient struct {
	httpClient *http.Client
	logger     *zap.Logger
	config     TokenClientConfig
}

// NewTokenClient creates a new token client
func NewTokenClient(httpClient *http.Client, cfg TokenClientConfig, logger *zap.Logger) *TokenClient {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if cfg.TokenURL == "" {
		cfg.TokenURL = DefaultTokenURL
	}
	return &TokenClient{httpClient: httpClient, logger: logger, config: cfg}
}

type tokenResponse struct {
	AccessToken      string `json:"access_token"`
	ExpiresIn        int64  `json:"expires_in"`
	TokenType        string `json:"token_type"`
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

// RefreshAccessToken runs the refresh_token grant. invalid_grant yields domain.ErrRefreshRevoked;
// every other failure is a *domain.RefreshFailedError.
func (c *TokenClient) RefreshAccessToken(ctx context.Context, refreshToken string) (*domain.RefreshedToken, error) {
	if c.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.config.Timeout)
		defer cancel()
	}

	data := url.Values{
		"client_id":     {c.config.ClientID},
		"client_secret": {c.config.ClientSecret},
		"refresh_token": {refreshToken},
		"grant_type":    {"refresh_token"},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.TokenURL, strings.NewReader(data.Encode()))
	if err != nil {
		return nil, &domain.RefreshFailedError{Message: fmt.Sprintf("failed to create token request: %v", err)}
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Warn("Token refresh request failed", zap.Error(err))
		return nil, &domain.RefreshFailedError{Message: err.Error()}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	if err != nil {
		return nil, &domain.RefreshFailedError{Message: fmt.Sprintf("failed to read token response: %v", err)}
	}

	var parsed tokenResponse
	if jsonErr := json.Unmarshal(body, &parsed); jsonErr != nil && resp.StatusCode == http.StatusOK {
		return nil, &domain.RefreshFailedError{Message: fmt.Sprintf("failed to parse token response: %v", jsonErr)}
	}

	if parsed.Error == errInvalidGrant {
		return nil, domain.ErrRefreshRevoked
	}

	if resp.StatusCode != http.StatusOK || parsed.Error != "" {
		msg := parsed.ErrorDescription
		if msg == "" {
			msg = parsed.Error
		}
		if msg == "" {
			msg = fmt.Sprintf("token endpoint returned status %d", resp.StatusCode)
		}
		c.logger.Warn("Token refresh rejected",
			zap.Int("http_status", resp.StatusCode),
			zap.String("error", parsed.Error),
		)
		return nil, &domain.RefreshFailedError{Message: msg}
	}

	if parsed.AccessToken == "" {
		return nil, &domain.RefreshFailedError{Message: "empty access token in response"}
	}

	return &domain.RefreshedToken{
		AccessToken: parsed.AccessToken,
		ExpiresIn:   time.Duration(parsed.ExpiresIn) * time.Second,
	}, nil
}
