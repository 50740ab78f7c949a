package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quickRetry(attempts int) RetryConfig {
	return RetryConfig{MaxAttempts: attempts, InitialBackoff: time.Millisecond, MaxBackoff: 2 * time.Millisecond}
}

func TestDo_SuccessAfterTransient(t *testing.T) {
	calls := 0
	err := Do(context.Background(), quickRetry(3), func(_ context.Context) error {
		calls++
		if calls < 3 {
			return NewTransientError(errors.New("503"), 503)
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestDo_ExhaustsAttempts(t *testing.T) {
	calls := 0
	err := Do(context.Background(), quickRetry(2), func(_ context.Context) error {
		calls++
		return NewTransientError(errors.New("busy"), 429)
	})
	require.Error(t, err)
	assert.Equal(t, 2, calls)
}

func TestDo_PermanentErrorNotRetried(t *testing.T) {
	calls := 0
	err := Do(context.Background(), quickRetry(5), func(_ context.Context) error {
		calls++
		return errors.New("invalid credentials")
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestDo_ContextCancelledStops(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := Do(ctx, RetryConfig{MaxAttempts: 5, InitialBackoff: time.Second}, func(_ context.Context) error {
		calls++
		cancel()
		return NewTransientError(errors.New("reset"), 0)
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestDo_OnRetryAndCustomShouldRetry(t *testing.T) {
	var attempts []int
	cfg := quickRetry(3)
	cfg.ShouldRetry = func(error) bool { return true }
	cfg.OnRetry = func(a int, _ error) { attempts = append(attempts, a) }

	_ = Do(context.Background(), cfg, func(_ context.Context) error { return errors.New("x") })
	assert.Equal(t, []int{1, 2}, attempts)
}

func TestDoVal_ReturnsValue(t *testing.T) {
	v, err := DoVal(context.Background(), quickRetry(3), func(_ context.Context) (string, error) {
		return "token", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "token", v)
}

func TestBackoff_GrowsAndCaps(t *testing.T) {
	cfg := RetryConfig{InitialBackoff: 100 * time.Millisecond, MaxBackoff: 300 * time.Millisecond, Multiplier: 2}
	assert.Equal(t, 100*time.Millisecond, backoff(0, cfg))
	assert.Equal(t, 200*time.Millisecond, backoff(1, cfg))
	assert.Equal(t, 300*time.Millisecond, backoff(5, cfg))
}

func TestFromRetryConfig(t *testing.T) {
	cfg := FromRetryConfig(5, 250, 0)
	assert.Equal(t, 5, cfg.MaxAttempts)
	assert.Equal(t, 250*time.Millisecond, cfg.InitialBackoff)
	assert.Equal(t, 10*time.Second, cfg.MaxBackoff)
}
