package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func fastConfig(attempts int) Config {
	return Config{MaxAttempts: attempts, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond, Multiplier: 2}
}

func TestDoSucceedsAfterTransientFailures(t *testing.T) {
	calls := 0
	result := Do(context.Background(), fastConfig(3), func(context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("503 service unavailable")
		}
		return nil
	}, nil)

	assert.True(t, result.Success)
	assert.Equal(t, 3, result.Attempts)
	assert.NoError(t, result.LastError)
}

func TestDoStopsAtMaxAttempts(t *testing.T) {
	calls := 0
	result := Do(context.Background(), fastConfig(3), func(context.Context) error {
		calls++
		return errors.New("still down")
	}, nil)

	assert.False(t, result.Success)
	assert.Equal(t, 3, calls)
	assert.EqualError(t, result.LastError, "still down")
}

func TestDoDoesNotRetryPermanent(t *testing.T) {
	calls := 0
	badRequest := errors.New("400 bad request")
	result := Do(context.Background(), fastConfig(5), func(context.Context) error {
		calls++
		return Permanent(badRequest)
	}, nil)

	assert.Equal(t, 1, calls)
	assert.ErrorIs(t, result.LastError, badRequest)
	assert.False(t, IsPermanent(result.LastError))
}

func TestDoHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cfg := Config{MaxAttempts: 5, BaseDelay: time.Hour}
	result := Do(ctx, cfg, func(context.Context) error {
		cancel()
		return errors.New("fail")
	}, nil)

	assert.Equal(t, 1, result.Attempts)
	assert.ErrorIs(t, result.LastError, context.Canceled)
}

func TestCalculateDelayCapped(t *testing.T) {
	cfg := Config{BaseDelay: time.Second, MaxDelay: 3 * time.Second, Multiplier: 2}
	assert.Equal(t, time.Second, calculateDelay(cfg, 0))
	assert.Equal(t, 2*time.Second, calculateDelay(cfg, 1))
	assert.Equal(t, 3*time.Second, calculateDelay(cfg, 5))
}
