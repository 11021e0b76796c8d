// Package googlefit talks to the Google Fit aggregate API and the Google OAuth token endpoint.
package googlefit

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/prperemyshlev/step-sync-service/internal/domain"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	// DefaultAggregateURL is the Google Fit dataset aggregate endpoint
	DefaultAggregateURL = "https://www.googleapis.com/fitness/v1/users/me/dataset:aggregate"

	stepCountDataType = "com.google.step_count.delta"
	maxErrorBody      = 64 << 10
)

// ClientConfig configures the aggregate client
type ClientConfig struct {
	Endpoint          string
	Timeout           time.Duration
	RequestsPerSecond float64
	Burst             int
}

// Client fetches step totals from the aggregate endpoint. It is safe for concurrent use and
// performs no retries.
type Client struct {
	httpClient *http.Client
	logger     *zap.Logger
	endpoint   string
	timeout    time.Duration
	limiter    *rate.Limiter
}

// NewClient creates a new aggregate client
func NewClient(httpClient *http.Client, cfg ClientConfig, logger *zap.Logger) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if cfg.Endpoint == "" {
		cfg.Endpoint = DefaultAggregateURL
	}

	limiter := rate.NewLimiter(rate.Inf, 0)
	if cfg.RequestsPerSecond > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}

	return &Client{
		httpClient: httpClient,
		logger:     logger,
		endpoint:   cfg.Endpoint,
		timeout:    cfg.Timeout,
		limiter:    limiter,
	}
}

type aggregateRequest struct {
	AggregateBy     []aggregateBy `json:"aggregateBy"`
	BucketByTime    bucketByTime  `json:"bucketByTime"`
	StartTimeMillis int64         `json:"startTimeMillis"`
	EndTimeMillis   int64         `json:"endTimeMillis"`
}

type aggregateBy struct {
	DataTypeName string `json:"dataTypeName"`
}

type bucketByTime struct {
	DurationMillis int64 `json:"durationMillis"`
}

type aggregateResponse struct {
	Bucket []struct {
		Dataset []struct {
			Point []struct {
				Value []struct {
					IntVal int64 `json:"intVal"`
				} `json:"value"`
			} `json:"point"`
		} `json:"dataset"`
	} `json:"bucket"`
}

type apiErrorResponse struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// FetchSteps returns the number of steps recorded in [start, end), requested as one daily bucket.
// A 401 yields domain.ErrUnauthorized, other non-2xx statuses a *domain.ProviderError and
// network failures domain.ErrTransport.
func (c *Client) FetchSteps(ctx context.Context, accessToken string, start, end time.Time) (int64, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return 0, fmt.Errorf("%w: waiting for request slot: %w", domain.ErrTransport, err)
	}

	payload, err := json.Marshal(aggregateRequest{
		AggregateBy:     []aggregateBy{{DataTypeName: stepCountDataType}},
		BucketByTime:    bucketByTime{DurationMillis: domain.DayDuration.Milliseconds()},
		StartTimeMillis: start.UnixMilli(),
		EndTimeMillis:   end.UnixMilli(),
	})
	if err != nil {
		return 0, fmt.Errorf("failed to encode aggregate request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return 0, fmt.Errorf("failed to create aggregate request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Warn("Google Fit aggregate request failed", zap.Error(err))
		return 0, fmt.Errorf("%w: %w", domain.ErrTransport, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxErrorBody))
		return 0, domain.ErrUnauthorized
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		msg := apiErrorMessage(body, resp.Status)
		c.logger.Warn("Google Fit returned an error status",
			zap.Int("http_status", resp.StatusCode),
			zap.String("message", msg),
		)
		return 0, &domain.ProviderError{Status: resp.StatusCode, Message: msg}
	}

	var parsed aggregateResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		if ctx.Err() != nil {
			return 0, fmt.Errorf("%w: %w", domain.ErrTransport, err)
		}
		return 0, &domain.ProviderError{Status: resp.StatusCode, Message: "malformed aggregate response: " + err.Error()}
	}

	var total int64
	for _, bucket := range parsed.Bucket {
		for _, dataset := range bucket.Dataset {
			for _, point := range dataset.Point {
				if len(point.Value) > 0 {
					total += point.Value[0].IntVal
				}
			}
		}
	}

	return total, nil
}

func apiErrorMessage(body []byte, fallback string) string {
	var apiErr apiErrorResponse
	if err := json.Unmarshal(body, &apiErr); err == nil && apiErr.Error.Message != "" {
		return apiErr.Error.Message
	}
	if text := strings.TrimSpace(string(body)); text != "" {
		return text
	}
	return fallback
}
