package llm

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"warden/core"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func testGuardConfig() GuardConfig {
	cfg := DefaultGuardConfig()
	cfg.Timeout = time.Second
	cfg.RatePerSecond = 1000
	cfg.Burst = 100
	return cfg
}

func countingGenerator(calls *int32, text string, err error) Generator {
	return GeneratorFunc(func(ctx context.Context, prompt string) (string, error) {
		atomic.AddInt32(calls, 1)
		return text, err
	})
}

func TestGuarded_PassesThroughAndCaches(t *testing.T) {
	var calls int32
	g, err := NewGuarded(countingGenerator(&calls, "- risk", nil), testGuardConfig(), zaptest.NewLogger(t).Sugar())
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		text, err := g.Generate(context.Background(), "same prompt")
		require.NoError(t, err)
		assert.Equal(t, "- risk", text)
	}
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))

	_, err = g.Generate(context.Background(), "other prompt")
	require.NoError(t, err)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestGuarded_CacheDisabled(t *testing.T) {
	var calls int32
	cfg := testGuardConfig()
	cfg.CacheSize = 0
	g, err := NewGuarded(countingGenerator(&calls, "x", nil), cfg, nil)
	require.NoError(t, err)

	_, _ = g.Generate(context.Background(), "p")
	_, _ = g.Generate(context.Background(), "p")
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestGuarded_WrapsFailures(t *testing.T) {
	var calls int32
	boom := errors.New("model unavailable")
	g, err := NewGuarded(countingGenerator(&calls, "", boom), testGuardConfig(), nil)
	require.NoError(t, err)

	_, err = g.Generate(context.Background(), "p")
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrGenerationFailure)
	assert.ErrorIs(t, err, boom)
}

func TestGuarded_BreakerOpensAfterRepeatedFailures(t *testing.T) {
	var calls int32
	cfg := testGuardConfig()
	cfg.CircuitBreaker = BreakerConfig{MaxFailures: 2, Timeout: time.Hour, MaxHalfOpenRequests: 1}
	g, err := NewGuarded(countingGenerator(&calls, "", errors.New("down")), cfg, nil)
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		_, err = g.Generate(context.Background(), "p")
		require.Error(t, err)
	}
	assert.Equal(t, BreakerOpen, g.Breaker().State())

	_, err = g.Generate(context.Background(), "p")
	assert.ErrorIs(t, err, core.ErrGenerationFailure)
	assert.ErrorIs(t, err, ErrBreakerOpen)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls), "open breaker must not call the generator")
}

func TestGuarded_Timeout(t *testing.T) {
	cfg := testGuardConfig()
	cfg.Timeout = 20 * time.Millisecond
	slow := GeneratorFunc(func(ctx context.Context, prompt string) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	})
	g, err := NewGuarded(slow, cfg, nil)
	require.NoError(t, err)

	_, err = g.Generate(context.Background(), "p")
	assert.ErrorIs(t, err, core.ErrGenerationFailure)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestGuarded_CancelledContext(t *testing.T) {
	g, err := NewGuarded(Static("never"), testGuardConfig(), nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = g.Generate(ctx, "p")
	assert.ErrorIs(t, err, core.ErrGenerationFailure)
}

func TestNewGuarded_Invalid(t *testing.T) {
	_, err := NewGuarded(nil, testGuardConfig(), nil)
	assert.Error(t, err)

	cfg := testGuardConfig()
	cfg.Timeout = 0
	_, err = NewGuarded(Static("x"), cfg, nil)
	assert.Error(t, err)

	cfg = testGuardConfig()
	cfg.Burst = 0
	_, err = NewGuarded(Static("x"), cfg, nil)
	assert.Error(t, err)
}
