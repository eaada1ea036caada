// Package resilience keeps a learner's provider chain usable when a vendor
// degrades. Every session builds its providers from the learner's own API
// key, so each key gets a private [Chain] of primary plus fallback backends,
// and every link in the chain is guarded by a [Breaker].
//
// All types are safe for concurrent use.
package resilience

import (
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrBreakerOpen is returned by [Breaker.Do] while the breaker is cooling
// down after tripping.
var ErrBreakerOpen = errors.New("resilience: breaker open")

// Breaker defaults. A tutor turn reaches the provider every few seconds, so
// the breaker trips quickly and probes again soon: a learner staring at a
// stuck session is worse than an extra failed request.
const (
	defaultTripAfter   = 3
	defaultCooldown    = 20 * time.Second
	defaultProbeBudget = 2
)

// BreakerState is the operating mode of a [Breaker].
type BreakerState uint8

const (
	// BreakerClosed forwards every call.
	BreakerClosed BreakerState = iota

	// BreakerOpen rejects calls with [ErrBreakerOpen] until the cooldown
	// elapses.
	BreakerOpen

	// BreakerProbing lets a bounded number of calls through after the
	// cooldown. Success closes the breaker, any failure re-opens it.
	BreakerProbing
)

func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "closed"
	case BreakerOpen:
		return "open"
	case BreakerProbing:
		return "probing"
	default:
		return "unknown"
	}
}

// BreakerConfig tunes a [Breaker]. Zero values take the package defaults.
type BreakerConfig struct {
	// Name labels the breaker in log output, normally the provider name.
	Name string

	// TripAfter is the failure streak that opens the breaker.
	TripAfter int

	// Cooldown is how long the breaker stays open before probing again.
	Cooldown time.Duration

	// ProbeBudget is how many calls the probing state lets through before
	// the breaker decides to close or re-open.
	ProbeBudget int
}

// Breaker shields a provider from repeated calls while it is failing. It
// trips after a streak of consecutive failures, rejects calls during a
// cooldown, then probes with a bounded number of calls before closing again.
type Breaker struct {
	name        string
	tripAfter   int
	cooldown    time.Duration
	probeBudget int
	now         func() time.Time // swapped out by tests

	mu         sync.Mutex
	state      BreakerState
	failStreak int
	openedAt   time.Time
	probes     int
	probeFails int
}

// NewBreaker creates a [Breaker] from cfg, filling zero fields with the
// package defaults.
func NewBreaker(cfg BreakerConfig) *Breaker {
	if cfg.TripAfter <= 0 {
		cfg.TripAfter = defaultTripAfter
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = defaultCooldown
	}
	if cfg.ProbeBudget <= 0 {
		cfg.ProbeBudget = defaultProbeBudget
	}
	return &Breaker{
		name:        cfg.Name,
		tripAfter:   cfg.TripAfter,
		cooldown:    cfg.Cooldown,
		probeBudget: cfg.ProbeBudget,
		now:         time.Now,
	}
}

// Do runs fn unless the breaker is open. While open and inside the cooldown
// it returns [ErrBreakerOpen] without calling fn; after the cooldown a
// bounded number of probe calls go through.
func (b *Breaker) Do(fn func() error) error {
	b.mu.Lock()
	switch b.state {
	case BreakerOpen:
		if b.now().Sub(b.openedAt) < b.cooldown {
			b.mu.Unlock()
			return ErrBreakerOpen
		}
		b.state = BreakerProbing
		b.probes = 0
		b.probeFails = 0
		slog.Info("breaker probing", "breaker", b.name)

	case BreakerProbing:
		if b.probes >= b.probeBudget {
			b.mu.Unlock()
			return ErrBreakerOpen
		}
	}

	probing := b.state == BreakerProbing
	if probing {
		b.probes++
	}
	b.mu.Unlock()

	err := fn()

	b.mu.Lock()
	defer b.mu.Unlock()
	if err != nil {
		b.onFailure(probing)
	} else {
		b.onSuccess(probing)
	}
	return err
}

// onFailure updates state after a failed call. Caller holds b.mu.
func (b *Breaker) onFailure(probing bool) {
	b.openedAt = b.now()

	if probing {
		// One bad probe is enough evidence; back to cooling down.
		b.probeFails++
		b.state = BreakerOpen
		b.failStreak = b.tripAfter
		slog.Warn("breaker re-opened by failed probe", "breaker", b.name)
		return
	}

	b.failStreak++
	if b.failStreak >= b.tripAfter {
		b.state = BreakerOpen
		slog.Warn("breaker tripped", "breaker", b.name, "fail_streak", b.failStreak)
	}
}

// onSuccess updates state after a successful call. Caller holds b.mu.
func (b *Breaker) onSuccess(probing bool) {
	if probing {
		if b.probes-b.probeFails >= b.probeBudget {
			b.state = BreakerClosed
			b.failStreak = 0
			b.probes = 0
			b.probeFails = 0
			slog.Info("breaker closed after clean probes", "breaker", b.name)
		}
		return
	}
	b.failStreak = 0
}

// State reports the breaker's mode. An open breaker whose cooldown has
// elapsed reports [BreakerProbing]; the transition itself happens on the
// next [Breaker.Do].
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == BreakerOpen && b.now().Sub(b.openedAt) >= b.cooldown {
		return BreakerProbing
	}
	return b.state
}

// Reset forces the breaker closed and clears every counter.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = BreakerClosed
	b.failStreak = 0
	b.probes = 0
	b.probeFails = 0
	slog.Info("breaker reset", "breaker", b.name)
}
