package store

import (
	"context"

	"go.uber.org/zap"

	"github.com/JakeFAU/restockwatch/internal/stock"
)

// EscalationQueue is the hand-off file between light and confirm runs.
type EscalationQueue struct {
	doc *Document[[]stock.EscalationEntry]
}

// NewEscalationQueue returns a queue backed by path.
func NewEscalationQueue(path string, logger *zap.Logger) *EscalationQueue {
	return &EscalationQueue{doc: NewDocument[[]stock.EscalationEntry](path, logger)}
}

// Load returns the queued entries in order.
func (q *EscalationQueue) Load(_ context.Context) []stock.EscalationEntry {
	entries, _ := q.doc.Read()
	return dedupe(nil, entries)
}

// Append adds entries not already queued and returns the resulting queue.
func (q *EscalationQueue) Append(ctx context.Context, entries []stock.EscalationEntry) ([]stock.EscalationEntry, error) {
	merged := dedupe(q.Load(ctx), entries)
	if err := q.doc.Write(merged); err != nil {
		return nil, err
	}
	return merged, nil
}

// Clear writes an empty queue.
func (q *EscalationQueue) Clear(_ context.Context) error {
	return q.doc.Write([]stock.EscalationEntry{})
}

func dedupe(base, extra []stock.EscalationEntry) []stock.EscalationEntry {
	out := make([]stock.EscalationEntry, 0, len(base)+len(extra))
	seen := make(map[string]struct{}, len(base)+len(extra))
	for _, list := range [][]stock.EscalationEntry{base, extra} {
		for _, e := range list {
			if e.URL == "" {
				continue
			}
			if _, dup := seen[e.Key()]; dup {
				continue
			}
			seen[e.Key()] = struct{}{}
			out = append(out, e)
		}
	}
	return out
}
