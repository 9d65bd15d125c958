package mirror

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"
)

// DefaultCooldown is how long a failed mirror stays out of rotation.
const DefaultCooldown = 5 * time.Minute

// AllUnavailableError indicates every mirror is unavailable.
type AllUnavailableError struct {
	LastError error
}

func (e *AllUnavailableError) Error() string {
	if e.LastError != nil {
		return fmt.Sprintf("all mirrors unavailable, last error: %v", e.LastError)
	}
	return "all mirrors unavailable"
}

func (e *AllUnavailableError) Unwrap() error {
	return e.LastError
}

// Pool holds one circuit breaker per mirror. Requests go to the highest
// priority tier first, round-robin within a tier. A mirror whose breaker
// is open is skipped until its cooldown expires.
type Pool struct {
	mu sync.Mutex

	// mirrors sorted by priority (highest first)
	mirrors []Mirror

	// breakers parallel to mirrors (same index)
	breakers []*gobreaker.CircuitBreaker[struct{}]

	// tiers groups mirror indices by priority, sorted descending
	tiers [][]int

	// tierIndex tracks round-robin position within each priority tier
	tierIndex map[int]int
}

type poolConfig struct {
	cooldown     time.Duration
	isSuccessful func(error) bool
	logger       *slog.Logger
}

// Option configures a Pool.
type Option func(*poolConfig)

// WithCooldown sets how long a failed mirror stays out of rotation.
func WithCooldown(d time.Duration) Option {
	return func(c *poolConfig) {
		if d > 0 {
			c.cooldown = d
		}
	}
}

// WithIsSuccessful decides which errors count as mirror failures. Errors
// for which fn returns true are handed back to the caller without failover.
func WithIsSuccessful(fn func(error) bool) Option {
	return func(c *poolConfig) {
		c.isSuccessful = fn
	}
}

// WithLogger logs breaker state changes.
func WithLogger(logger *slog.Logger) Option {
	return func(c *poolConfig) {
		c.logger = logger
	}
}

// isSuccessful is the default classifier: cancellation is the caller's
// doing, everything else is the mirror's fault.
func isSuccessful(err error) bool {
	return err == nil || errors.Is(err, context.Canceled)
}

// NewPool creates a Pool over the given mirrors.
func NewPool(mirrors []Mirror, opts ...Option) *Pool {
	cfg := poolConfig{
		cooldown:     DefaultCooldown,
		isSuccessful: isSuccessful,
	}
	for _, o := range opts {
		o(&cfg)
	}

	sorted := make([]Mirror, len(mirrors))
	copy(sorted, mirrors)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Priority > sorted[j].Priority
	})

	breakers := make([]*gobreaker.CircuitBreaker[struct{}], len(sorted))
	for i, m := range sorted {
		settings := gobreaker.Settings{
			Name:    m.URL,
			Timeout: cfg.cooldown,

			// Open on first failure; there are other mirrors to try.
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 1
			},
			IsSuccessful: cfg.isSuccessful,
		}
		if cfg.logger != nil {
			logger := cfg.logger
			settings.OnStateChange = func(name string, from, to gobreaker.State) {
				logger.Warn("mirror state changed", "mirror", name, "from", from.String(), "to", to.String())
			}
		}
		breakers[i] = gobreaker.NewCircuitBreaker[struct{}](settings)
	}

	tiers := groupByPriority(sorted)
	tierIndex := make(map[int]int, len(tiers))
	for _, tier := range tiers {
		tierIndex[sorted[tier[0]].Priority] = 0
	}

	return &Pool{
		mirrors:   sorted,
		breakers:  breakers,
		tiers:     tiers,
		tierIndex: tierIndex,
	}
}

// groupByPriority groups mirror indices into tiers by priority.
// Input must be sorted by priority descending.
func groupByPriority(sorted []Mirror) [][]int {
	if len(sorted) == 0 {
		return nil
	}

	var tiers [][]int
	var current []int
	priority := sorted[0].Priority

	for i, m := range sorted {
		if m.Priority != priority {
			tiers = append(tiers, current)
			current = nil
			priority = m.Priority
		}
		current = append(current, i)
	}
	return append(tiers, current)
}

// Do runs fn against mirrors in priority order until one succeeds or fails
// with an error the pool does not count as a mirror failure. Each mirror
// is tried at most once per call. Returns *AllUnavailableError when no
// mirror could serve the request.
func (p *Pool) Do(ctx context.Context, fn func(context.Context, Mirror) error) error {
	tried := make([]bool, len(p.mirrors))
	var lastErr error

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		idx := p.next(tried)
		if idx < 0 {
			return &AllUnavailableError{LastError: lastErr}
		}
		tried[idx] = true

		m := p.mirrors[idx]
		breaker := p.breakers[idx]

		_, err := breaker.Execute(func() (struct{}, error) {
			return struct{}{}, fn(ctx, m)
		})
		if err == nil {
			return nil
		}

		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			lastErr = err
			continue
		}

		// An error that tripped the breaker is the mirror's fault: try the
		// next one. Anything else belongs to the caller.
		if breaker.State() == gobreaker.StateOpen {
			lastErr = fmt.Errorf("%s: %w", m.URL, err)
			continue
		}
		return err
	}
}

// next returns the index of the next available untried mirror, or -1.
func (p *Pool) next(tried []bool) int {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, tier := range p.tiers {
		priority := p.mirrors[tier[0]].Priority
		start := p.tierIndex[priority]

		for i := 0; i < len(tier); i++ {
			pos := (start + i) % len(tier)
			idx := tier[pos]
			if tried[idx] || p.breakers[idx].State() == gobreaker.StateOpen {
				continue
			}
			p.tierIndex[priority] = (pos + 1) % len(tier)
			return idx
		}
	}
	return -1
}

// AllUnavailable returns true if every breaker is open.
func (p *Pool) AllUnavailable() bool {
	for _, b := range p.breakers {
		if b.State() != gobreaker.StateOpen {
			return false
		}
	}
	return true
}

// Status is the health of one mirror.
type Status struct {
	Mirror
	State string `json:"state"`
}

// Status reports every mirror's breaker state, highest priority first.
func (p *Pool) Status() []Status {
	out := make([]Status, len(p.mirrors))
	for i, m := range p.mirrors {
		out[i] = Status{Mirror: m, State: p.breakers[i].State().String()}
	}
	return out
}

// Mirrors returns the pool's mirrors, highest priority first.
func (p *Pool) Mirrors() []Mirror {
	out := make([]Mirror, len(p.mirrors))
	copy(out, p.mirrors)
	return out
}

// Len returns the number of mirrors in the pool.
func (p *Pool) Len() int {
	return len(p.mirrors)
}
