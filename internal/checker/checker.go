// Package checker orchestrates a single restock run: fetch every target,
// decide a verdict, arbitrate against persisted state, notify or escalate,
// and commit the new state.
package checker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/restockwatch/internal/arbiter"
	"github.com/JakeFAU/restockwatch/internal/decide"
	"github.com/JakeFAU/restockwatch/internal/fetcher"
	"github.com/JakeFAU/restockwatch/internal/logging"
	"github.com/JakeFAU/restockwatch/internal/metrics"
	"github.com/JakeFAU/restockwatch/internal/notify"
	"github.com/JakeFAU/restockwatch/internal/stock"
	"github.com/JakeFAU/restockwatch/internal/store"
)

// Mode names a run flavor.
type Mode string

// Run modes.
const (
	// ModeCheck fetches every target and notifies directly.
	ModeCheck Mode = "check"
	// ModeLight is the cheap keyword pass that queues possible restocks.
	ModeLight Mode = "light"
	// ModeConfirm renders queued targets and notifies on confirmed restocks.
	ModeConfirm Mode = "confirm"
)

// Engine selects the decision engine.
type Engine string

// Decision engines.
const (
	EngineCSS      Engine = "css"
	EngineKeywords Engine = "keywords"
)

// Config holds per-run settings.
type Config struct {
	Mode   Mode
	Engine Engine
	Prefix string
}

// Deps are the collaborators of a Checker. Validators is optional; Queue is
// required for light and confirm runs.
type Deps struct {
	Fetcher    stock.Fetcher
	Executor   stock.Executor
	State      stock.StateStore
	Validators *store.ValidatorCache
	Queue      *store.EscalationQueue
	Notifier   stock.Notifier
	Arbiter    *arbiter.Arbiter
	Hasher     stock.Hasher
	Clock      stock.Clock
	IDs        stock.IDGenerator
	Logger     *zap.Logger
}

// Summary reports what a run did.
type Summary struct {
	RunID        string        `json:"run_id"`
	Mode         Mode          `json:"mode"`
	StartedAt    time.Time     `json:"started_at"`
	Duration     time.Duration `json:"duration"`
	Targets      int           `json:"targets"`
	Fetched      int           `json:"fetched"`
	NotModified  int           `json:"not_modified"`
	Failed       int           `json:"failed"`
	InStock      int           `json:"in_stock"`
	Notified     int           `json:"notified"`
	NotifyFailed int           `json:"notify_failed"`
	Escalated    int           `json:"escalated"`
}

// Checker runs one mode against a fixed set of collaborators.
type Checker struct {
	cfg  Config
	deps Deps
}

// New validates deps for cfg.Mode.
func New(cfg Config, deps Deps) (*Checker, error) {
	switch cfg.Mode {
	case ModeCheck, ModeLight, ModeConfirm:
	default:
		return nil, fmt.Errorf("unknown run mode %q", cfg.Mode)
	}
	if cfg.Engine == "" {
		cfg.Engine = EngineCSS
	}
	if cfg.Engine != EngineCSS && cfg.Engine != EngineKeywords {
		return nil, fmt.Errorf("unknown decision engine %q", cfg.Engine)
	}
	if deps.Fetcher == nil || deps.Executor == nil || deps.State == nil || deps.Arbiter == nil {
		return nil, errors.New("checker requires fetcher, executor, state store and arbiter")
	}
	if deps.Hasher == nil || deps.Clock == nil || deps.IDs == nil {
		return nil, errors.New("checker requires hasher, clock and id generator")
	}
	if cfg.Mode != ModeCheck && deps.Queue == nil {
		return nil, fmt.Errorf("%s runs require an escalation queue", cfg.Mode)
	}
	if deps.Arbiter.Mode() == arbiter.ModeNotify && deps.Notifier == nil {
		return nil, errors.New("notify-mode runs require a notifier")
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	return &Checker{cfg: cfg, deps: deps}, nil
}

// Mode reports the checker's run mode.
func (c *Checker) Mode() Mode {
	return c.cfg.Mode
}

// Run executes one pass over targets. Per-target failures are logged and
// counted; only persistence failures abort the run.
func (c *Checker) Run(ctx context.Context, targets []stock.Target) (summary Summary, err error) {
	runID, err := c.deps.IDs.NewID()
	if err != nil {
		return Summary{}, fmt.Errorf("generate run id: %w", err)
	}
	log := logging.ForRun(c.deps.Logger, string(c.cfg.Mode), runID)
	started := c.deps.Clock.Now()
	summary = Summary{RunID: runID, Mode: c.cfg.Mode, StartedAt: started}
	defer func() {
		summary.Duration = c.deps.Clock.Now().Sub(started)
		metrics.ObserveRun(string(c.cfg.Mode), err, c.deps.Clock.Now())
		if err != nil {
			log.Error("run failed", zap.Error(err))
			return
		}
		log.Info("run finished",
			zap.Int("targets", summary.Targets),
			zap.Int("fetched", summary.Fetched),
			zap.Int("not_modified", summary.NotModified),
			zap.Int("failed", summary.Failed),
			zap.Int("notified", summary.Notified),
			zap.Int("escalated", summary.Escalated),
			zap.Duration("duration", summary.Duration),
		)
	}()

	if c.cfg.Mode == ModeConfirm {
		targets = c.resolveQueue(ctx, log, targets)
	}
	summary.Targets = len(targets)
	log.Info("run started", zap.Int("targets", len(targets)))

	prior, err := c.deps.State.Load(ctx)
	if err != nil {
		log.Warn("state load failed; starting empty", zap.Error(err))
		prior = nil
	}
	if prior == nil {
		prior = make(map[string]stock.StateRecord)
	}

	var pending map[string]struct{}
	if c.cfg.Mode == ModeLight {
		pending = c.pendingURLs(ctx)
	}

	var cache map[string]stock.CacheValidators
	if c.usesValidators() {
		cache = c.deps.Validators.Load(ctx)
	}

	results := c.deps.Executor.Run(ctx, targets, func(ctx context.Context, t stock.Target) stock.FetchResult {
		req := stock.FetchRequest{URL: t.URL}
		// Without a prior verdict a 304 would leave nothing to carry over.
		if _, known := prior[t.URL]; known && cache != nil {
			req.Validators = cache[t.URL]
		}
		resp, ferr := c.deps.Fetcher.Fetch(ctx, req)
		return fetcher.Result(resp, ferr, t)
	})

	next := make(map[string]stock.StateRecord, len(prior)+len(targets))
	for url, rec := range prior {
		next[url] = rec
	}
	var escalations, retry []stock.EscalationEntry

	for _, res := range results {
		rec, escalate := c.process(ctx, log, res, prior, &summary)
		if rec != nil {
			next[res.Target.URL] = *rec
		}
		entry := stock.EscalationEntry{URL: res.Target.URL, Name: res.Target.Name}
		if !escalate && stillPending(pending, next, res.Target.URL) {
			log.Debug("still in stock; keeping queued", zap.String("url", res.Target.URL))
			escalate = true
		}
		if escalate {
			escalations = append(escalations, entry)
		}
		if c.cfg.Mode == ModeConfirm && res.Outcome == stock.OutcomeFailed {
			retry = append(retry, entry)
		}
		if cache != nil && res.Outcome == stock.OutcomeFetched {
			cache[res.Target.URL] = cache[res.Target.URL].Merge(res.Response.Validators)
		}
	}

	if err = c.deps.State.Save(ctx, next); err != nil {
		return summary, fmt.Errorf("save state: %w", err)
	}
	if cache != nil {
		if err = c.deps.Validators.Save(ctx, cache); err != nil {
			return summary, fmt.Errorf("save validator cache: %w", err)
		}
	}

	switch c.cfg.Mode {
	case ModeLight:
		summary.Escalated = len(escalations)
		metrics.ObserveEscalations(len(escalations))
		if len(escalations) == 0 {
			err = c.deps.Queue.Clear(ctx)
		} else {
			var queued []stock.EscalationEntry
			queued, err = c.deps.Queue.Append(ctx, escalations)
			if err == nil {
				log.Info("queued for confirmation", zap.Int("new", len(escalations)), zap.Int("queued", len(queued)))
			}
		}
		if err != nil {
			return summary, fmt.Errorf("write escalation queue: %w", err)
		}
	case ModeConfirm:
		if err = c.deps.Queue.Clear(ctx); err != nil {
			return summary, fmt.Errorf("clear escalation queue: %w", err)
		}
		if len(retry) > 0 {
			if _, err = c.deps.Queue.Append(ctx, retry); err != nil {
				return summary, fmt.Errorf("requeue failed confirmations: %w", err)
			}
			log.Info("requeued failed confirmations", zap.Int("queued", len(retry)))
		}
	}
	return summary, nil
}

// pendingURLs returns the URLs already waiting for confirmation.
func (c *Checker) pendingURLs(ctx context.Context) map[string]struct{} {
	entries := c.deps.Queue.Load(ctx)
	out := make(map[string]struct{}, len(entries))
	for _, e := range entries {
		out[e.URL] = struct{}{}
	}
	return out
}

// stillPending reports whether a queued URL should stay queued: its verdict
// after this run is still in stock.
func stillPending(pending map[string]struct{}, records map[string]stock.StateRecord, url string) bool {
	if _, ok := pending[url]; !ok {
		return false
	}
	rec, ok := records[url]
	return ok && rec.Verdict == stock.VerdictInStock
}

func (c *Checker) usesValidators() bool {
	return c.cfg.Mode != ModeConfirm && c.deps.Validators != nil
}

// resolveQueue maps queued entries onto registered targets by URL.
func (c *Checker) resolveQueue(ctx context.Context, log *zap.Logger, registry []stock.Target) []stock.Target {
	byURL := make(map[string]stock.Target, len(registry))
	for _, t := range registry {
		byURL[t.URL] = t
	}
	entries := c.deps.Queue.Load(ctx)
	out := make([]stock.Target, 0, len(entries))
	seen := make(map[string]struct{}, len(entries))
	for _, e := range entries {
		t, ok := byURL[e.URL]
		if !ok {
			log.Warn("queued url is not a registered target; dropping", zap.String("url", e.URL), zap.String("name", e.Name))
			continue
		}
		if _, dup := seen[t.URL]; dup {
			continue
		}
		seen[t.URL] = struct{}{}
		out = append(out, t)
	}
	return out
}

// process merges one fetch result. It returns the record to persist (nil for
// none) and whether the target should be escalated.
func (c *Checker) process(
	ctx context.Context,
	log *zap.Logger,
	res stock.FetchResult,
	prior map[string]stock.StateRecord,
	summary *Summary,
) (*stock.StateRecord, bool) {
	target := res.Target
	tlog := log.With(zap.String("url", target.URL), zap.String("name", target.Name))
	mode := string(c.cfg.Mode)
	metrics.ObserveCheck(mode, res.Outcome.String(), target.URL, len(res.Response.Body), res.Response.Duration)

	in := arbiter.Input{Name: target.Name, Outcome: res.Outcome}
	if p, ok := prior[target.URL]; ok {
		in.Prior = &p
	}

	switch res.Outcome {
	case stock.OutcomeFailed:
		summary.Failed++
		tlog.Warn("fetch failed; keeping prior verdict", zap.Error(res.Err))
	case stock.OutcomeNotModified:
		summary.NotModified++
		tlog.Debug("not modified")
	case stock.OutcomeFetched:
		summary.Fetched++
		in.Verdict = c.evaluate(tlog, res.Response.Body, target)
		hash, err := c.deps.Hasher.Hash(res.Response.Body)
		if err != nil {
			tlog.Warn("fingerprint failed", zap.Error(err))
		}
		in.ContentHash = hash
		metrics.ObserveVerdict(mode, string(in.Verdict))
		if in.Verdict == stock.VerdictInStock {
			summary.InStock++
		}
		tlog.Debug("decided", zap.String("verdict", string(in.Verdict)), zap.String("hash", hash))
	}

	d := c.deps.Arbiter.Arbitrate(in)
	if d.Notify && d.Record != nil {
		if !c.send(ctx, tlog, target) {
			d.Record.LastNotifiedAt = nil
			if in.Prior != nil {
				d.Record.LastNotifiedAt = in.Prior.LastNotifiedAt
			}
			summary.NotifyFailed++
		} else {
			summary.Notified++
		}
	}
	if d.Escalate {
		tlog.Info("possible restock; escalating", zap.Bool("changed", d.Changed))
	}
	return d.Record, d.Escalate
}

// evaluate applies the configured engine. CSS evaluation falls back to
// keywords for targets that carry no selector at all.
func (c *Checker) evaluate(log *zap.Logger, body []byte, target stock.Target) stock.Verdict {
	if c.cfg.Engine == EngineKeywords || !hasSelectors(target) {
		return decide.DecideTargetKeywords(body, target)
	}
	verdict, err := decide.Decide(body, target.InStock, target.OutOfStock)
	if err != nil {
		var pe *decide.ParseError
		if errors.As(err, &pe) {
			log.Warn("selector could not be evaluated; verdict unknown", zap.String("selector", pe.Selector), zap.Error(err))
		} else {
			log.Warn("decide failed; verdict unknown", zap.Error(err))
		}
		return stock.VerdictUnknown
	}
	return verdict
}

func hasSelectors(t stock.Target) bool {
	return (t.InStock != nil && t.InStock.Selector != "") || (t.OutOfStock != nil && t.OutOfStock.Selector != "")
}

// send delivers the restock message and reports whether the transport
// accepted it. A skipped send counts as not sent.
func (c *Checker) send(ctx context.Context, log *zap.Logger, target stock.Target) bool {
	msg := stock.Message{
		Target: target,
		Text:   notify.Format(c.cfg.Prefix, target),
		SentAt: c.deps.Clock.Now(),
	}
	err := c.deps.Notifier.Send(ctx, msg)
	switch {
	case err == nil:
		metrics.ObserveNotification("sent")
		log.Info("restock notification sent")
		return true
	case errors.Is(err, notify.ErrMissingCredentials):
		metrics.ObserveNotification("skipped")
		log.Warn("notification skipped", zap.Error(err))
	default:
		metrics.ObserveNotification("failed")
		var se *notify.StatusError
		if errors.As(err, &se) {
			log.Error("notification rejected", zap.Int("status", se.StatusCode), zap.String("body", se.Body))
		} else {
			log.Error("notification failed", zap.Error(err))
		}
	}
	return false
}
