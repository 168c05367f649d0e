package llm

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"warden/metrics"
)

// BreakerState is the state of the generation circuit breaker
type BreakerState string

const (
	BreakerClosed   BreakerState = "closed"
	BreakerOpen     BreakerState = "open"
	BreakerHalfOpen BreakerState = "half_open"
)

var (
	// ErrBreakerOpen is returned while the breaker rejects calls
	ErrBreakerOpen = errors.New("generation circuit breaker is open")
	// ErrBreakerProbeBusy is returned when every half-open probe slot is taken
	ErrBreakerProbeBusy = errors.New("generation circuit breaker probe in flight")
)

// BreakerConfig controls when the breaker trips and recovers
type BreakerConfig struct {
	MaxFailures         uint32        `mapstructure:"max_failures" validate:"min=1"`
	Timeout             time.Duration `mapstructure:"timeout" validate:"gt=0"`
	MaxHalfOpenRequests uint32        `mapstructure:"max_half_open_requests" validate:"min=1"`
}

// DefaultBreakerConfig returns the stock breaker settings
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		MaxFailures:         3,
		Timeout:             30 * time.Second,
		MaxHalfOpenRequests: 1,
	}
}

// Validate checks the breaker settings
func (c BreakerConfig) Validate() error {
	if c.MaxFailures == 0 {
		return errors.New("max_failures must be greater than 0")
	}
	if c.Timeout <= 0 {
		return errors.New("timeout must be greater than 0")
	}
	if c.MaxHalfOpenRequests == 0 {
		return errors.New("max_half_open_requests must be greater than 0")
	}
	return nil
}

// Breaker stops calling a generator that keeps failing.
// After MaxFailures consecutive failures it opens; once Timeout has passed it
// lets MaxHalfOpenRequests probes through and closes on the first success.
type Breaker struct {
	cfg      BreakerConfig
	now      func() time.Time
	mu       sync.Mutex
	state    BreakerState
	failures uint32
	openedAt time.Time
	probes   uint32
}

// NewBreaker creates a closed breaker
func NewBreaker(cfg BreakerConfig) (*Breaker, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid circuit breaker config: %w", err)
	}
	b := &Breaker{cfg: cfg, now: time.Now, state: BreakerClosed}
	b.publish()
	return b, nil
}

// Allow reserves a call or returns why the call is rejected
func (b *Breaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == BreakerOpen {
		if b.now().Sub(b.openedAt) < b.cfg.Timeout {
			return ErrBreakerOpen
		}
		b.transition(BreakerHalfOpen)
	}

	if b.state == BreakerHalfOpen {
		if b.probes >= b.cfg.MaxHalfOpenRequests {
			return ErrBreakerProbeBusy
		}
		b.probes++
	}
	return nil
}

// Success records a completed call
func (b *Breaker) Success() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures = 0
	if b.state == BreakerHalfOpen {
		b.transition(BreakerClosed)
	}
}

// Release returns a reserved probe slot for a call that never ran
func (b *Breaker) Release() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == BreakerHalfOpen && b.probes > 0 {
		b.probes--
	}
}

// Failure records a failed call
func (b *Breaker) Failure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures++
	switch b.state {
	case BreakerHalfOpen:
		b.trip()
	case BreakerClosed:
		if b.failures >= b.cfg.MaxFailures {
			b.trip()
		}
	}
}

// State returns the current state
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Failures returns the consecutive failure count
func (b *Breaker) Failures() uint32 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failures
}

// Reset closes the breaker and clears counters
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures = 0
	b.transition(BreakerClosed)
}

func (b *Breaker) trip() {
	b.openedAt = b.now()
	b.transition(BreakerOpen)
}

// transition must be called with mu held
func (b *Breaker) transition(to BreakerState) {
	b.state = to
	b.probes = 0
	b.publish()
}

func (b *Breaker) publish() {
	switch b.state {
	case BreakerClosed:
		metrics.CircuitBreakerState.Set(0)
	case BreakerHalfOpen:
		metrics.CircuitBreakerState.Set(1)
	case BreakerOpen:
		metrics.CircuitBreakerState.Set(2)
	}
}
