// Package circuitbreaker protects the application from hammering a market
// data provider that keeps failing.
package circuitbreaker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/yourorg/ophunt/internal/fetch"
	"github.com/yourorg/ophunt/internal/model"
)

// ErrOpen is returned without contacting the provider while the circuit is open
var ErrOpen = errors.New("circuit breaker open: provider calls suspended")

// State represents the current state of the circuit breaker
type State int

// Circuit breaker states
const (
	StateClosed   State = iota // Normal operation
	StateOpen                  // Tripped, calls fail fast
	StateHalfOpen              // Testing if the provider has recovered
)

// String returns the lower-case state name used in logs and the HTTP API
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// Options configures a CircuitBreaker
type Options struct {
	// Consecutive failures that open the circuit
	FailureThreshold int

	// Time the circuit stays open before letting a call through
	CooldownPeriod time.Duration

	// Successes in half-open state needed to close the circuit
	SuccessThreshold int

	// OnTrip is called, in its own goroutine, each time the circuit opens
	OnTrip func(reason string)

	// OnStateChange is called synchronously on every transition
	OnStateChange func(from, to State)
}

// DefaultOptions returns the breaker settings used in production
func DefaultOptions() Options {
	return Options{
		FailureThreshold: 3,
		CooldownPeriod:   time.Minute,
		SuccessThreshold: 1,
	}
}

// CircuitBreaker implements the circuit breaker pattern around provider calls
type CircuitBreaker struct {
	opts Options

	mu           sync.RWMutex
	state        State
	failures     int
	successCount int
	lastTrip     time.Time
	lastError    string

	// Set while the single half-open trial call is outstanding
	trialInFlight bool

	now func() time.Time
}

// New creates a new CircuitBreaker; non-positive thresholds fall back to defaults
func New(opts Options) *CircuitBreaker {
	def := DefaultOptions()
	if opts.FailureThreshold <= 0 {
		opts.FailureThreshold = def.FailureThreshold
	}
	if opts.CooldownPeriod <= 0 {
		opts.CooldownPeriod = def.CooldownPeriod
	}
	if opts.SuccessThreshold <= 0 {
		opts.SuccessThreshold = def.SuccessThreshold
	}

	return &CircuitBreaker{
		opts:  opts,
		state: StateClosed,
		now:   time.Now,
	}
}

// Allow reports whether a call may proceed, moving an expired open circuit
// to half-open. While half-open only one call at a time is let through;
// the caller must report its outcome with Record.
func (cb *CircuitBreaker) Allow() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateClosed:
		return nil
	case StateHalfOpen:
		if cb.trialInFlight {
			return ErrOpen
		}
		cb.trialInFlight = true
		return nil
	}

	if cb.now().Sub(cb.lastTrip) < cb.opts.CooldownPeriod {
		return ErrOpen
	}

	cb.setState(StateHalfOpen)
	cb.successCount = 0
	cb.trialInFlight = true
	logrus.Info("Circuit breaker half-open: testing provider recovery")
	return nil
}

// Record reports the outcome of a call that Allow let through
func (cb *CircuitBreaker) Record(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.trialInFlight = false
	if err == nil {
		cb.failures = 0
		if cb.state == StateHalfOpen {
			cb.successCount++
			if cb.successCount >= cb.opts.SuccessThreshold {
				cb.setState(StateClosed)
				cb.successCount = 0
				logrus.Info("Circuit breaker closed: provider has recovered")
			}
		}
		return
	}

	cb.failures++
	cb.lastError = err.Error()

	switch {
	case cb.state == StateHalfOpen:
		cb.trip(fmt.Sprintf("failure while half-open: %v", err))
	case cb.state == StateClosed && cb.failures >= cb.opts.FailureThreshold:
		cb.trip(fmt.Sprintf("%d consecutive failures, last: %v", cb.failures, err))
	}
}

// GetState returns the current state of the circuit breaker
func (cb *CircuitBreaker) GetState() State {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return cb.state
}

// Snapshot describes the breaker for the status endpoints
type Snapshot struct {
	State     string    `json:"state"`
	Failures  int       `json:"consecutive_failures"`
	LastTrip  time.Time `json:"last_trip,omitempty"`
	LastError string    `json:"last_error,omitempty"`
}

// Snapshot returns a copy of the breaker's state
func (cb *CircuitBreaker) Snapshot() Snapshot {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return Snapshot{
		State:     cb.state.String(),
		Failures:  cb.failures,
		LastTrip:  cb.lastTrip,
		LastError: cb.lastError,
	}
}

// Reset forcibly resets the circuit breaker to closed state
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.setState(StateClosed)
	cb.failures = 0
	cb.successCount = 0
	cb.trialInFlight = false
	logrus.Info("Circuit breaker manually reset to closed state")
}

// trip sets the circuit breaker to open state; callers hold mu
func (cb *CircuitBreaker) trip(reason string) {
	cb.setState(StateOpen)
	cb.lastTrip = cb.now()
	cb.successCount = 0
	logrus.Warnf("Circuit breaker tripped: %s", reason)

	if cb.opts.OnTrip != nil {
		go cb.opts.OnTrip(reason)
	}
}

func (cb *CircuitBreaker) setState(to State) {
	from := cb.state
	cb.state = to
	if from != to && cb.opts.OnStateChange != nil {
		cb.opts.OnStateChange(from, to)
	}
}

// countsAsFailure tells upstream failures from answers the provider gave
// successfully but that carry no data, and from caller cancellation.
func countsAsFailure(err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, fetch.ErrNoQuote), errors.Is(err, fetch.ErrInvalidToken):
		return false
	case errors.Is(err, context.Canceled):
		return false
	default:
		return true
	}
}

// Provider is a fetch.Provider guarded by a CircuitBreaker
type Provider struct {
	next    fetch.Provider
	breaker *CircuitBreaker
}

// Wrap guards p with a new breaker configured by opts
func Wrap(p fetch.Provider, opts Options) *Provider {
	return &Provider{next: p, breaker: New(opts)}
}

// Breaker exposes the underlying breaker for status and reset
func (p *Provider) Breaker() *CircuitBreaker {
	return p.breaker
}

// Name implements fetch.Provider
func (p *Provider) Name() string {
	return p.next.Name()
}

func (p *Provider) guard(call func() error) error {
	if err := p.breaker.Allow(); err != nil {
		return err
	}
	err := call()
	if countsAsFailure(err) {
		p.breaker.Record(err)
	} else {
		p.breaker.Record(nil)
	}
	return err
}

// Quote implements fetch.Provider
func (p *Provider) Quote(ctx context.Context, ticker string) (float64, error) {
	var price float64
	err := p.guard(func() error {
		var err error
		price, err = p.next.Quote(ctx, ticker)
		return err
	})
	return price, err
}

// Expirations implements fetch.Provider
func (p *Provider) Expirations(ctx context.Context, ticker string) ([]string, error) {
	var expirations []string
	err := p.guard(func() error {
		var err error
		expirations, err = p.next.Expirations(ctx, ticker)
		return err
	})
	return expirations, err
}

// Chain implements fetch.Provider
func (p *Provider) Chain(ctx context.Context, ticker, token string) (*model.Chain, error) {
	var chain *model.Chain
	err := p.guard(func() error {
		var err error
		chain, err = p.next.Chain(ctx, ticker, token)
		return err
	})
	return chain, err
}
