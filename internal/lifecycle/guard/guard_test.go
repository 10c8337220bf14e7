package guard

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redismock/v9"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"loan-lifecycle/internal/common/logger"
)

func newMiniredisGuard(t *testing.T) (*Guard, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return New(client, logger.NewTestLogger(t)), mr
}

func TestKey(t *testing.T) {
	assert.Equal(t, "lifecycle:claim:app-001:in_review", Key("app-001", "in_review"))
	assert.Equal(t, "lifecycle:claim:app-001:zero_docs", Key("app-001", "zero_docs"))
}

func TestGuard_Claim(t *testing.T) {
	ctx := context.Background()
	g, mr := newMiniredisGuard(t)
	key := Key("app-001", "in_review")

	assert.True(t, g.Claim(ctx, key, time.Minute))
	assert.False(t, g.Claim(ctx, key, time.Minute))

	assert.True(t, mr.Exists(key))
	assert.Equal(t, time.Minute, mr.TTL(key))

	assert.True(t, g.Claim(ctx, Key("app-002", "in_review"), time.Minute), "keys are independent")
}

func TestGuard_ClaimAfterExpiry(t *testing.T) {
	ctx := context.Background()
	g, mr := newMiniredisGuard(t)
	key := Key("app-001", "zero_docs")

	require.True(t, g.Claim(ctx, key, 10*time.Second))
	mr.FastForward(11 * time.Second)

	assert.True(t, g.Claim(ctx, key, 10*time.Second))
}

func TestGuard_SubSecondTTLRoundsUp(t *testing.T) {
	g, mr := newMiniredisGuard(t)
	key := Key("app-001", "in_review")

	require.True(t, g.Claim(context.Background(), key, 0))
	assert.Equal(t, time.Second, mr.TTL(key))
}

func TestGuard_ConcurrentClaimsHaveOneWinner(t *testing.T) {
	ctx := context.Background()
	g, _ := newMiniredisGuard(t)
	key := Key("app-001", "in_review")

	var wins int32
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if g.Claim(ctx, key, time.Minute) {
				atomic.AddInt32(&wins, 1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), wins)
}

func TestGuard_FailsClosed(t *testing.T) {
	tests := []struct {
		name  string
		setup func(mock redismock.ClientMock, key string)
	}{
		{
			name: "store error",
			setup: func(mock redismock.ClientMock, key string) {
				mock.ExpectSetNX(key, 1, time.Minute).SetErr(errors.New("connection refused"))
			},
		},
		{
			name: "context deadline",
			setup: func(mock redismock.ClientMock, key string) {
				mock.ExpectSetNX(key, 1, time.Minute).SetErr(context.DeadlineExceeded)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, mock := redismock.NewClientMock()
			key := Key("app-001", "in_review")
			tt.setup(mock, key)

			g := New(client, logger.NewNoOpLogger())
			assert.False(t, g.Claim(context.Background(), key, time.Minute))
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestGuard_ExistingMarker(t *testing.T) {
	client, mock := redismock.NewClientMock()
	key := Key("app-001", "in_review")
	mock.ExpectSetNX(key, 1, time.Minute).SetVal(false)

	g := New(client, logger.NewNoOpLogger())
	assert.False(t, g.Claim(context.Background(), key, time.Minute))
	assert.NoError(t, mock.ExpectationsWereMet())
}
