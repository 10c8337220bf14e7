// internal/common/database/connect.go
package database

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"

	"loan-lifecycle/internal/common/logger"
)

// Pinger is satisfied by every client in this package.
type Pinger interface {
	Ping(ctx context.Context) error
}

// WaitReady pings until the dependency answers or maxElapsed passes.
func WaitReady(ctx context.Context, name string, p Pinger, maxElapsed time.Duration, log logger.Logger) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 500 * time.Millisecond
	bo.MaxInterval = 5 * time.Second
	bo.MaxElapsedTime = maxElapsed

	attempt := 0
	return backoff.RetryNotify(func() error {
		attempt++
		pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		defer cancel()
		return p.Ping(pingCtx)
	}, backoff.WithContext(bo, ctx), func(err error, next time.Duration) {
		log.Warn("dependency not ready, retrying", map[string]interface{}{
			"dependency":  name,
			"attempt":     attempt,
			"error":       err,
			"nextRetryIn": next.String(),
		})
	})
}
