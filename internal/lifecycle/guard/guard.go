// Package guard implements the "claim once per key for N seconds" primitive
// that backs exactly-once notifications.
package guard

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	apperrors "loan-lifecycle/internal/common/errors"
	"loan-lifecycle/internal/common/logger"
)

const keyPrefix = "lifecycle:claim"

// Claimer is the contract the transition applier depends on.
type Claimer interface {
	Claim(ctx context.Context, key string, ttl time.Duration) bool
}

type Guard struct {
	client redis.Cmdable
	logger logger.Logger
}

func New(client redis.Cmdable, log logger.Logger) *Guard {
	return &Guard{
		client: client,
		logger: log.WithFields(map[string]interface{}{"component": "guard"}),
	}
}

// Key builds the claim key for one side effect of one application.
func Key(applicationID, kind string) string {
	return fmt.Sprintf("%s:%s:%s", keyPrefix, applicationID, kind)
}

// Claim reports whether this caller set the marker. Store errors are treated
// as "already claimed".
func (g *Guard) Claim(ctx context.Context, key string, ttl time.Duration) bool {
	if ttl < time.Second {
		ttl = time.Second
	}

	ok, err := g.client.SetNX(ctx, key, 1, ttl).Result()
	if err != nil {
		stdErr := apperrors.NewClaimStoreUnavailableError(key, err)
		g.logger.Warn("claim store unavailable, skipping side effect", map[string]interface{}{
			"key":       key,
			"errorCode": stdErr.Code,
			"error":     err,
		})
		return false
	}
	return ok
}
