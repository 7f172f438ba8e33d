package resilience

import (
	"log/slog"
	"sync"
	"time"

	"github.com/sony/gobreaker"
)

// Well-known downstream dependencies.
const (
	DependencyPlatform   = "platform"
	DependencyGeneration = "generation"
)

// BreakerSettings configures a breaker for one dependency.
type BreakerSettings struct {
	// Threshold is the number of consecutive failures that opens the breaker.
	Threshold int
	// OpenDuration is how long the breaker stays open before allowing one probe.
	OpenDuration time.Duration
}

// Breakers is a registry of circuit breakers, one per dependency.
type Breakers struct {
	logger   *slog.Logger
	settings map[string]BreakerSettings

	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker
}

func NewBreakers(logger *slog.Logger, settings map[string]BreakerSettings) *Breakers {
	return &Breakers{
		logger:   logger,
		settings: settings,
		breakers: make(map[string]*gobreaker.CircuitBreaker),
	}
}

// Get returns the breaker for name, creating it lazily.
func (b *Breakers) Get(name string) *gobreaker.CircuitBreaker {
	b.mu.Lock()
	defer b.mu.Unlock()

	if cb, ok := b.breakers[name]; ok {
		return cb
	}

	st, ok := b.settings[name]
	if !ok {
		st = BreakerSettings{Threshold: 5, OpenDuration: 30 * time.Second}
	}
	cb := gobreaker.NewCircuitBreaker(b.newSettings(name, st))
	b.breakers[name] = cb
	return cb
}

// States reports the current state of every breaker created so far.
func (b *Breakers) States() map[string]string {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make(map[string]string, len(b.breakers))
	for name, cb := range b.breakers {
		out[name] = cb.State().String()
	}
	return out
}

func (b *Breakers) newSettings(name string, st BreakerSettings) gobreaker.Settings {
	threshold := uint32(max(st.Threshold, 1))

	return gobreaker.Settings{
		Name: name,
		// [HALF_OPEN] Exactly one probe; its outcome closes or re-opens the breaker.
		MaxRequests: 1,
		Timeout:     st.OpenDuration,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		// Client errors (4xx) say nothing about the dependency's health.
		IsSuccessful: func(err error) bool {
			return err == nil || IsClientError(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			if b.logger == nil {
				return
			}
			b.logger.Warn("CIRCUIT_BREAKER_STATE_CHANGED",
				"dependency", name,
				"from", from.String(),
				"to", to.String(),
			)
		},
	}
}

// Execute runs fn through the breaker for name and returns its typed result.
func Execute[T any](cb *gobreaker.CircuitBreaker, fn func() (T, error)) (T, error) {
	res, err := cb.Execute(func() (interface{}, error) {
		return fn()
	})
	if err != nil {
		var zero T
		if v, ok := res.(T); ok {
			return v, err
		}
		return zero, err
	}
	v, _ := res.(T)
	return v, nil
}
