package llm

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"warden/core"
	"warden/metrics"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// GuardConfig holds the limits applied around every generation call
type GuardConfig struct {
	Timeout        time.Duration `mapstructure:"timeout" validate:"gt=0"`
	RatePerSecond  float64       `mapstructure:"rate_per_second" validate:"gt=0"`
	Burst          int           `mapstructure:"burst" validate:"min=1"`
	CacheSize      int           `mapstructure:"cache_size" validate:"min=0"`
	CircuitBreaker BreakerConfig `mapstructure:"circuit_breaker"`
}

// DefaultGuardConfig returns the stock generation limits
func DefaultGuardConfig() GuardConfig {
	return GuardConfig{
		Timeout:        60 * time.Second,
		RatePerSecond:  2,
		Burst:          1,
		CacheSize:      128,
		CircuitBreaker: DefaultBreakerConfig(),
	}
}

// Guarded wraps a Generator with timeout, pacing, breaker and cache.
// Safe for concurrent use.
type Guarded struct {
	inner   Generator
	cfg     GuardConfig
	limiter *rate.Limiter
	breaker *Breaker
	cache   *lru.Cache[string, string]
	logger  *zap.SugaredLogger
}

// NewGuarded wraps inner. A CacheSize of zero disables caching.
func NewGuarded(inner Generator, cfg GuardConfig, logger *zap.SugaredLogger) (*Guarded, error) {
	if inner == nil {
		return nil, errors.New("guarded generator requires an inner generator")
	}
	if cfg.Timeout <= 0 {
		return nil, fmt.Errorf("generation timeout must be positive, got %v", cfg.Timeout)
	}
	if cfg.RatePerSecond <= 0 || cfg.Burst < 1 {
		return nil, fmt.Errorf("invalid generation rate %v/s burst %d", cfg.RatePerSecond, cfg.Burst)
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}

	breaker, err := NewBreaker(cfg.CircuitBreaker)
	if err != nil {
		return nil, err
	}

	g := &Guarded{
		inner:   inner,
		cfg:     cfg,
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSecond), cfg.Burst),
		breaker: breaker,
		logger:  logger,
	}
	if cfg.CacheSize > 0 {
		g.cache, err = lru.New[string, string](cfg.CacheSize)
		if err != nil {
			return nil, fmt.Errorf("failed to create response cache: %w", err)
		}
	}
	return g, nil
}

// Breaker exposes the circuit breaker for health reporting
func (g *Guarded) Breaker() *Breaker {
	return g.breaker
}

// Generate calls the inner generator under the configured limits.
// Every error wraps core.ErrGenerationFailure.
func (g *Guarded) Generate(ctx context.Context, prompt string) (string, error) {
	key := cacheKey(prompt)
	if g.cache != nil {
		if text, ok := g.cache.Get(key); ok {
			metrics.GenerationRequests.WithLabelValues("cached").Inc()
			return text, nil
		}
	}

	if err := g.breaker.Allow(); err != nil {
		metrics.GenerationRequests.WithLabelValues("rejected").Inc()
		return "", fmt.Errorf("%w: %w", core.ErrGenerationFailure, err)
	}

	ctx, cancel := context.WithTimeout(ctx, g.cfg.Timeout)
	defer cancel()

	if err := g.limiter.Wait(ctx); err != nil {
		g.breaker.Release()
		metrics.GenerationRequests.WithLabelValues("rate_limited").Inc()
		return "", fmt.Errorf("%w: rate limiter: %w", core.ErrGenerationFailure, err)
	}

	start := time.Now()
	text, err := g.inner.Generate(ctx, prompt)
	metrics.GenerationDuration.Observe(time.Since(start).Seconds())

	if err == nil {
		err = ctx.Err()
	}
	if err != nil {
		g.breaker.Failure()
		metrics.GenerationRequests.WithLabelValues("error").Inc()
		g.logger.Warnw("Generation failed", "error", err, "breaker", g.breaker.State(), "prompt_bytes", len(prompt))
		return "", fmt.Errorf("%w: %w", core.ErrGenerationFailure, err)
	}

	g.breaker.Success()
	metrics.GenerationRequests.WithLabelValues("ok").Inc()
	if g.cache != nil {
		g.cache.Add(key, text)
	}
	return text, nil
}

func cacheKey(prompt string) string {
	sum := sha256.Sum256([]byte(prompt))
	return hex.EncodeToString(sum[:])
}
