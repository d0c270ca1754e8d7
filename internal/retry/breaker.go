package retry

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrOpen is returned by Breaker.Do while the breaker is rejecting calls.
var ErrOpen = errors.New("circuit open")

// BreakerState is where a Breaker is in its cycle.
type BreakerState int

const (
	Closed   BreakerState = iota // calls pass through
	Open                         // calls fail fast
	HalfOpen                     // one trial call is allowed
)

func (s BreakerState) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Breaker fails fast after Threshold consecutive failures and lets a
// single trial call through once Cooldown has passed.  A successful trial
// closes it again; a failed one restarts the cooldown.
type Breaker struct {
	Threshold int           // consecutive failures that open the breaker (default 3)
	Cooldown  time.Duration // time spent open before a trial call (default 30s)

	// OnChange, if set, is called on each transition.  It runs under
	// the breaker's lock and must not call back into it.
	OnChange func(from, to BreakerState)

	mu       sync.Mutex
	state    BreakerState
	failures int
	openedAt time.Time
	trialing bool
	now      func() time.Time
}

// Do runs fn unless the breaker is open.  Errors for which ignore
// returns true do not count as failures; ignore may be nil.
func (b *Breaker) Do(fn func() error, ignore func(error) bool) error {
	if err := b.admit(); err != nil {
		return err
	}
	err := fn()
	counted := err != nil && (ignore == nil || !ignore(err))
	b.record(counted)
	return err
}

// State returns the current state, moving an expired Open to HalfOpen.
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == Open && b.clock().Sub(b.openedAt) >= b.cooldown() {
		return HalfOpen
	}
	return b.state
}

func (b *Breaker) admit() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.state {
	case Open:
		left := b.cooldown() - b.clock().Sub(b.openedAt)
		if left > 0 {
			return fmt.Errorf("%w after %d failures, retry in %v", ErrOpen, b.failures, left.Round(time.Second))
		}
		b.setState(HalfOpen)
		b.trialing = true
	case HalfOpen:
		if b.trialing {
			return fmt.Errorf("%w: trial call in flight", ErrOpen)
		}
		b.trialing = true
	}
	return nil
}

func (b *Breaker) record(failed bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.trialing = false
	if !failed {
		b.failures = 0
		b.setState(Closed)
		return
	}
	b.failures++
	if b.state == HalfOpen || b.failures >= b.threshold() {
		b.openedAt = b.clock()
		b.setState(Open)
	}
}

// setState must be called with mu held.
func (b *Breaker) setState(to BreakerState) {
	from := b.state
	b.state = to
	if from != to && b.OnChange != nil {
		b.OnChange(from, to)
	}
}

func (b *Breaker) threshold() int {
	if b.Threshold > 0 {
		return b.Threshold
	}
	return 3
}

func (b *Breaker) cooldown() time.Duration {
	if b.Cooldown > 0 {
		return b.Cooldown
	}
	return 30 * time.Second
}

func (b *Breaker) clock() time.Time {
	if b.now != nil {
		return b.now()
	}
	return time.Now()
}
