package stock

import (
	"fmt"
	"strings"
	"time"
)

// Verdict is the tri-state stock status of a monitored page.
type Verdict string

// Verdict values persisted in the state store.
const (
	VerdictUnknown    Verdict = "unknown"
	VerdictInStock    Verdict = "in_stock"
	VerdictOutOfStock Verdict = "out_of_stock"
)

// ParseVerdict converts a persisted value into a Verdict. Empty or
// unrecognized values decode as VerdictUnknown.
func ParseVerdict(raw string) Verdict {
	switch Verdict(strings.ToLower(strings.TrimSpace(raw))) {
	case VerdictInStock:
		return VerdictInStock
	case VerdictOutOfStock:
		return VerdictOutOfStock
	default:
		return VerdictUnknown
	}
}

// Rule anchors a verdict to elements matched by a CSS selector. A nil Contains
// means the presence of a matching element alone satisfies the rule; an empty
// non-nil Contains never matches.
type Rule struct {
	Selector string   `json:"selector" yaml:"selector"`
	Contains []string `json:"contains,omitempty" yaml:"contains,omitempty"`
}

// Target is a monitored product page. URL is the identity used as the lookup
// key everywhere; Name is display only.
type Target struct {
	Name       string
	URL        string
	InStock    *Rule
	OutOfStock *Rule
}

// InStockWords returns the per-target in-stock keyword override, if any.
func (t Target) InStockWords() []string {
	if t.InStock == nil {
		return nil
	}
	return t.InStock.Contains
}

// OutOfStockWords returns the per-target out-of-stock keyword override, if any.
func (t Target) OutOfStockWords() []string {
	if t.OutOfStock == nil {
		return nil
	}
	return t.OutOfStock.Contains
}

// CacheValidators are the conditional-request headers remembered per URL.
type CacheValidators struct {
	ETag         string `json:"etag,omitempty"`
	LastModified string `json:"last_modified,omitempty"`
}

// IsZero reports whether no validator is cached.
func (v CacheValidators) IsZero() bool {
	return v.ETag == "" && v.LastModified == ""
}

// Merge overlays the non-empty fields of next onto v. Absent validators never
// clear a previously cached value.
func (v CacheValidators) Merge(next CacheValidators) CacheValidators {
	if next.ETag != "" {
		v.ETag = next.ETag
	}
	if next.LastModified != "" {
		v.LastModified = next.LastModified
	}
	return v
}

// StateRecord is the durable per-URL knowledge accumulated across runs.
type StateRecord struct {
	Name           string     `json:"name,omitempty"`
	Verdict        Verdict    `json:"verdict"`
	ContentHash    string     `json:"content_hash,omitempty"`
	LastCheckedAt  time.Time  `json:"last_checked_at"`
	LastNotifiedAt *time.Time `json:"last_notified_at,omitempty"`
}

// EscalationEntry asks the rendering pass to confirm a possible restock.
type EscalationEntry struct {
	URL  string `json:"url"`
	Name string `json:"name"`
}

// Key returns the de-duplication key of the entry.
func (e EscalationEntry) Key() string {
	return e.URL + "\x00" + e.Name
}

// Outcome classifies a single fetch attempt.
type Outcome int

// Fetch outcomes.
const (
	OutcomeFailed Outcome = iota
	OutcomeNotModified
	OutcomeFetched
)

// String implements fmt.Stringer.
func (o Outcome) String() string {
	switch o {
	case OutcomeFailed:
		return "failed"
	case OutcomeNotModified:
		return "not_modified"
	case OutcomeFetched:
		return "fetched"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// FetchRequest captures everything needed to fetch a target page.
type FetchRequest struct {
	URL        string
	Validators CacheValidators
}

// FetchResponse is the result returned by a Fetcher implementation.
type FetchResponse struct {
	URL         string
	StatusCode  int
	NotModified bool
	Body        []byte
	Validators  CacheValidators
	Duration    time.Duration
	Rendered    bool
}

// FetchResult pairs a target with the classified outcome of its fetch.
type FetchResult struct {
	Target   Target
	Outcome  Outcome
	Response FetchResponse
	Err      error
}
