// Package arbiter decides whether a verdict change is worth a notification or
// a confirmation pass, and produces the state record to persist.
package arbiter

import (
	"time"

	"github.com/JakeFAU/restockwatch/internal/stock"
)

// DefaultCooldown is the minimum spacing between notifications for one URL.
const DefaultCooldown = 5 * time.Minute

// Mode selects what the arbiter does with a transition.
type Mode int

const (
	// ModeNotify sends a message for transitions outside the cooldown.
	ModeNotify Mode = iota
	// ModeEscalate queues transitions for a confirmation pass.
	ModeEscalate
)

// Input describes one classified fetch.
type Input struct {
	Name        string
	Outcome     stock.Outcome
	Verdict     stock.Verdict
	ContentHash string
	Prior       *stock.StateRecord
}

// Decision is the arbiter's ruling for one target. Record is nil when there
// is nothing to persist.
type Decision struct {
	Notify   bool
	Escalate bool
	Changed  bool
	Record   *stock.StateRecord
}

// Option customizes an Arbiter.
type Option func(*Arbiter)

// WithCooldown overrides DefaultCooldown.
func WithCooldown(d time.Duration) Option {
	return func(a *Arbiter) {
		if d >= 0 {
			a.cooldown = d
		}
	}
}

// WithClock injects a time source.
func WithClock(c stock.Clock) Option {
	return func(a *Arbiter) {
		if c != nil {
			a.clock = c
		}
	}
}

// WithEscalateOnChange makes escalate mode also fire on any verdict or content
// hash change, not only on transitions into stock.
func WithEscalateOnChange(enabled bool) Option {
	return func(a *Arbiter) {
		a.escalateOnChange = enabled
	}
}

// Arbiter applies the transition and cooldown rules.
type Arbiter struct {
	mode             Mode
	cooldown         time.Duration
	clock            stock.Clock
	escalateOnChange bool
}

type utcClock struct{}

func (utcClock) Now() time.Time { return time.Now().UTC() }

// New constructs an Arbiter for the given mode.
func New(mode Mode, opts ...Option) *Arbiter {
	a := &Arbiter{
		mode:     mode,
		cooldown: DefaultCooldown,
		clock:    utcClock{},
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Mode reports the arbiter's mode.
func (a *Arbiter) Mode() Mode {
	return a.mode
}

// Arbitrate rules on a single input.
func (a *Arbiter) Arbitrate(in Input) Decision {
	now := a.clock.Now()

	if in.Outcome != stock.OutcomeFetched {
		if in.Prior == nil {
			return Decision{}
		}
		rec := *in.Prior
		rec.LastCheckedAt = now
		if in.Name != "" {
			rec.Name = in.Name
		}
		return Decision{Record: &rec}
	}

	rec := stock.StateRecord{
		Name:          in.Name,
		Verdict:       in.Verdict,
		ContentHash:   in.ContentHash,
		LastCheckedAt: now,
	}
	changed := true
	if in.Prior != nil {
		rec.LastNotifiedAt = in.Prior.LastNotifiedAt
		if rec.Name == "" {
			rec.Name = in.Prior.Name
		}
		changed = in.Prior.Verdict != in.Verdict || in.Prior.ContentHash != in.ContentHash
	}

	transition := in.Verdict == stock.VerdictInStock &&
		(in.Prior == nil || in.Prior.Verdict != stock.VerdictInStock)

	d := Decision{Changed: changed, Record: &rec}
	switch a.mode {
	case ModeEscalate:
		d.Escalate = transition || (a.escalateOnChange && changed)
	default:
		d.Notify = transition && a.cooledDown(in.Prior, now)
		if d.Notify {
			sent := now
			rec.LastNotifiedAt = &sent
		}
	}
	return d
}

func (a *Arbiter) cooledDown(prior *stock.StateRecord, now time.Time) bool {
	if prior == nil || prior.LastNotifiedAt == nil {
		return true
	}
	return now.Sub(*prior.LastNotifiedAt) >= a.cooldown
}
