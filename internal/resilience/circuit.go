// Package resilience provides retry and circuit breaking for calls to
// external sourcing collaborators.
package resilience

import (
	"context"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// CircuitState represents the state of a circuit breaker.
type CircuitState int

const (
	// CircuitClosed lets calls through.
	CircuitClosed CircuitState = iota
	// CircuitOpen rejects calls until the reset timeout elapses.
	CircuitOpen
	// CircuitHalfOpen lets probe calls through.
	CircuitHalfOpen
)

func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "closed"
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// ErrCircuitOpen is returned when a call is rejected without being attempted.
var ErrCircuitOpen = eris.New("circuit breaker is open")

// CircuitBreakerConfig controls circuit breaker behavior.
type CircuitBreakerConfig struct {
	// FailureThreshold is the number of consecutive tripping failures that
	// opens the circuit. Default: 5.
	FailureThreshold int
	// ResetTimeout is how long the circuit stays open. Default: 30s.
	ResetTimeout time.Duration
	// ShouldTrip decides whether an error counts toward the threshold.
	// Nil counts every error.
	ShouldTrip func(err error) bool
}

// DefaultCircuitBreakerConfig returns the defaults.
func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		FailureThreshold: 5,
		ResetTimeout:     30 * time.Second,
	}
}

// CircuitBreaker guards a single collaborator.
type CircuitBreaker struct {
	name string
	cfg  CircuitBreakerConfig

	mu       sync.Mutex
	state    CircuitState
	failures int
	openedAt time.Time
	nowFunc  func() time.Time
}

// NewCircuitBreaker creates a breaker. name is used in logs only.
func NewCircuitBreaker(name string, cfg CircuitBreakerConfig) *CircuitBreaker {
	def := DefaultCircuitBreakerConfig()
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = def.FailureThreshold
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = def.ResetTimeout
	}
	return &CircuitBreaker{
		name:    name,
		cfg:     cfg,
		state:   CircuitClosed,
		nowFunc: time.Now,
	}
}

// Execute runs fn unless the circuit is open.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	_, err := ExecuteVal(ctx, cb, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// ExecuteVal is Execute for functions that return a value.
func ExecuteVal[T any](ctx context.Context, cb *CircuitBreaker, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	if err := cb.allow(); err != nil {
		return zero, err
	}
	val, err := fn(ctx)
	cb.record(err)
	return val, err
}

// State returns the current state, reporting half-open once the reset
// timeout has elapsed.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state == CircuitOpen && cb.nowFunc().Sub(cb.openedAt) >= cb.cfg.ResetTimeout {
		return CircuitHalfOpen
	}
	return cb.state
}

// Failures returns the consecutive tripping failure count.
func (cb *CircuitBreaker) Failures() int {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.failures
}

// Reset closes the circuit.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.transition(CircuitClosed)
	cb.failures = 0
}

func (cb *CircuitBreaker) allow() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state != CircuitOpen {
		return nil
	}
	if cb.nowFunc().Sub(cb.openedAt) >= cb.cfg.ResetTimeout {
		cb.transition(CircuitHalfOpen)
		return nil
	}
	return ErrCircuitOpen
}

func (cb *CircuitBreaker) record(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	trips := err != nil
	if trips && cb.cfg.ShouldTrip != nil {
		trips = cb.cfg.ShouldTrip(err)
	}

	if !trips {
		cb.failures = 0
		if cb.state == CircuitHalfOpen {
			cb.transition(CircuitClosed)
		}
		return
	}

	cb.failures++
	if cb.state == CircuitHalfOpen || cb.failures >= cb.cfg.FailureThreshold {
		cb.openedAt = cb.nowFunc()
		cb.transition(CircuitOpen)
	}
}

func (cb *CircuitBreaker) transition(to CircuitState) {
	if cb.state == to {
		return
	}
	zap.L().Info("resilience: circuit state change",
		zap.String("collaborator", cb.name),
		zap.String("from", cb.state.String()),
		zap.String("to", to.String()),
	)
	cb.state = to
}

// Breakers hands out one circuit breaker per collaborator name.
type Breakers struct {
	mu       sync.Mutex
	cfg      CircuitBreakerConfig
	breakers map[string]*CircuitBreaker
}

// NewBreakers creates an empty breaker set sharing cfg.
func NewBreakers(cfg CircuitBreakerConfig) *Breakers {
	return &Breakers{cfg: cfg, breakers: make(map[string]*CircuitBreaker)}
}

// Get returns the breaker for name, creating it on first use.
func (b *Breakers) Get(name string) *CircuitBreaker {
	b.mu.Lock()
	defer b.mu.Unlock()
	cb, ok := b.breakers[name]
	if !ok {
		cb = NewCircuitBreaker(name, b.cfg)
		b.breakers[name] = cb
	}
	return cb
}

// States snapshots every breaker's state.
func (b *Breakers) States() map[string]CircuitState {
	b.mu.Lock()
	names := make(map[string]*CircuitBreaker, len(b.breakers))
	for k, v := range b.breakers {
		names[k] = v
	}
	b.mu.Unlock()

	out := make(map[string]CircuitState, len(names))
	for k, v := range names {
		out[k] = v.State()
	}
	return out
}
