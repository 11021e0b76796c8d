package app

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

const healthCheckTimeout = 2 * time.Second

type HealthChecker struct {
	infra Infrastructure
}

func NewHealthChecker(infra Infrastructure) *HealthChecker {
	return &HealthChecker{
		infra: infra,
	}
}

// check pings Postgres and Redis concurrently. Redis carries the refresh lock, so the service
// reports unhealthy without it.
func (h *HealthChecker) check(ctx context.Context) (map[string]string, error) {
	ctx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
	defer cancel()

	pgErr := make(chan error, 1)
	redisErr := make(chan error, 1)

	go func() { pgErr <- h.infra.Postgres().Ping(ctx) }()
	go func() { redisErr <- h.infra.Redis().Ping(ctx) }()

	checks := map[string]string{}
	var errs []error
	for name, ch := range map[string]chan error{"postgres": pgErr, "redis": redisErr} {
		if err := <-ch; err != nil {
			checks[name] = "fail"
			errs = append(errs, err)
			continue
		}
		checks[name] = "pass"
	}

	return checks, errors.Join(errs...)
}

func (h *HealthChecker) Handler(c *gin.Context) {
	checks, err := h.check(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status": "fail",
			"checks": checks,
			"error":  err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status": "pass",
		"checks": checks,
	})
}
