package arbiter

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/restockwatch/internal/stock"
)

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

var t0 = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func ptr(t time.Time) *time.Time { return &t }

func fetched(v stock.Verdict, hash string, prior *stock.StateRecord) Input {
	return Input{Name: "Widget", Outcome: stock.OutcomeFetched, Verdict: v, ContentHash: hash, Prior: prior}
}

func TestFirstInStockNotifies(t *testing.T) {
	t.Parallel()

	a := New(ModeNotify, WithClock(fixedClock{t0}))
	d := a.Arbitrate(fetched(stock.VerdictInStock, "h1", nil))

	assert.True(t, d.Notify)
	assert.True(t, d.Changed)
	assert.False(t, d.Escalate)
	require.NotNil(t, d.Record)
	assert.Equal(t, stock.VerdictInStock, d.Record.Verdict)
	assert.Equal(t, "h1", d.Record.ContentHash)
	assert.Equal(t, t0, d.Record.LastCheckedAt)
	require.NotNil(t, d.Record.LastNotifiedAt)
	assert.Equal(t, t0, *d.Record.LastNotifiedAt)
}

func TestInStockToInStockNeverNotifies(t *testing.T) {
	t.Parallel()

	prior := &stock.StateRecord{Verdict: stock.VerdictInStock, ContentHash: "h1", LastNotifiedAt: ptr(t0.Add(-time.Hour))}
	a := New(ModeNotify, WithClock(fixedClock{t0}))
	d := a.Arbitrate(fetched(stock.VerdictInStock, "h1", prior))

	assert.False(t, d.Notify)
	assert.False(t, d.Changed)
	require.NotNil(t, d.Record)
	assert.Equal(t, prior.LastNotifiedAt, d.Record.LastNotifiedAt)
	assert.Equal(t, t0, d.Record.LastCheckedAt)
}

func TestCooldownBoundary(t *testing.T) {
	t.Parallel()

	notified := t0
	prior := &stock.StateRecord{Verdict: stock.VerdictOutOfStock, LastNotifiedAt: &notified}

	suppressed := New(ModeNotify, WithCooldown(300*time.Second), WithClock(fixedClock{t0.Add(299 * time.Second)}))
	d := suppressed.Arbitrate(fetched(stock.VerdictInStock, "h", prior))
	assert.False(t, d.Notify)
	assert.Equal(t, &notified, d.Record.LastNotifiedAt)

	allowed := New(ModeNotify, WithCooldown(300*time.Second), WithClock(fixedClock{t0.Add(300 * time.Second)}))
	d = allowed.Arbitrate(fetched(stock.VerdictInStock, "h", prior))
	assert.True(t, d.Notify)
	assert.Equal(t, t0.Add(300*time.Second), *d.Record.LastNotifiedAt)
}

func TestOutOfStockAndUnknownDoNotNotify(t *testing.T) {
	t.Parallel()

	a := New(ModeNotify, WithClock(fixedClock{t0}))
	for _, v := range []stock.Verdict{stock.VerdictOutOfStock, stock.VerdictUnknown} {
		d := a.Arbitrate(fetched(v, "h", nil))
		assert.False(t, d.Notify, v)
		assert.Nil(t, d.Record.LastNotifiedAt)
	}
}

func TestNotModifiedAndFailedCarryPrior(t *testing.T) {
	t.Parallel()

	prior := &stock.StateRecord{
		Name:           "Widget",
		Verdict:        stock.VerdictOutOfStock,
		ContentHash:    "h0",
		LastCheckedAt:  t0.Add(-time.Hour),
		LastNotifiedAt: ptr(t0.Add(-2 * time.Hour)),
	}
	for _, outcome := range []stock.Outcome{stock.OutcomeNotModified, stock.OutcomeFailed} {
		for _, mode := range []Mode{ModeNotify, ModeEscalate} {
			a := New(mode, WithClock(fixedClock{t0}), WithEscalateOnChange(true))
			d := a.Arbitrate(Input{Name: "Widget", Outcome: outcome, Verdict: stock.VerdictInStock, ContentHash: "h9", Prior: prior})

			assert.False(t, d.Notify)
			assert.False(t, d.Escalate)
			assert.False(t, d.Changed)
			require.NotNil(t, d.Record)
			assert.Equal(t, stock.VerdictOutOfStock, d.Record.Verdict)
			assert.Equal(t, "h0", d.Record.ContentHash)
			assert.Equal(t, t0, d.Record.LastCheckedAt)
			assert.Equal(t, prior.LastNotifiedAt, d.Record.LastNotifiedAt)
		}
	}
	assert.Equal(t, t0.Add(-time.Hour), prior.LastCheckedAt, "prior must not be mutated")
}

func TestNotModifiedWithoutPriorPersistsNothing(t *testing.T) {
	t.Parallel()

	a := New(ModeNotify, WithClock(fixedClock{t0}))
	assert.Equal(t, Decision{}, a.Arbitrate(Input{Outcome: stock.OutcomeNotModified}))
	assert.Equal(t, Decision{}, a.Arbitrate(Input{Outcome: stock.OutcomeFailed}))
}

func TestEscalateMode(t *testing.T) {
	t.Parallel()

	prior := &stock.StateRecord{Verdict: stock.VerdictOutOfStock, ContentHash: "h0"}

	a := New(ModeEscalate, WithClock(fixedClock{t0}))
	d := a.Arbitrate(fetched(stock.VerdictInStock, "h1", prior))
	assert.True(t, d.Escalate)
	assert.False(t, d.Notify)
	assert.Nil(t, d.Record.LastNotifiedAt)

	d = a.Arbitrate(fetched(stock.VerdictOutOfStock, "h1", prior))
	assert.False(t, d.Escalate, "hash change alone must not escalate by default")
	assert.True(t, d.Changed)

	onChange := New(ModeEscalate, WithClock(fixedClock{t0}), WithEscalateOnChange(true))
	d = onChange.Arbitrate(fetched(stock.VerdictOutOfStock, "h1", prior))
	assert.True(t, d.Escalate)

	d = onChange.Arbitrate(fetched(stock.VerdictOutOfStock, "h0", prior))
	assert.False(t, d.Escalate)
}

func TestIdempotentSecondRun(t *testing.T) {
	t.Parallel()

	a := New(ModeNotify, WithClock(fixedClock{t0}))
	first := a.Arbitrate(fetched(stock.VerdictInStock, "h1", nil))
	require.True(t, first.Notify)

	later := New(ModeNotify, WithClock(fixedClock{t0.Add(time.Hour)}))
	second := later.Arbitrate(fetched(stock.VerdictInStock, "h1", first.Record))
	assert.False(t, second.Notify)
}

func TestDefaults(t *testing.T) {
	t.Parallel()

	a := New(ModeNotify, WithCooldown(-time.Second), WithClock(nil))
	assert.Equal(t, DefaultCooldown, a.cooldown)
	assert.NotNil(t, a.clock)
	assert.Equal(t, ModeNotify, a.Mode())
}
