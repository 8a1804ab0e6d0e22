package store

import (
	"context"

	"go.uber.org/zap"

	"github.com/JakeFAU/restockwatch/internal/stock"
)

// JSONStateStore implements stock.StateStore on a JSON file keyed by URL.
type JSONStateStore struct {
	doc *Document[map[string]stock.StateRecord]
}

var _ stock.StateStore = (*JSONStateStore)(nil)

// NewJSONStateStore returns a state store backed by path.
func NewJSONStateStore(path string, logger *zap.Logger) *JSONStateStore {
	return &JSONStateStore{doc: NewDocument[map[string]stock.StateRecord](path, logger)}
}

// Load never fails: missing or corrupt files yield an empty map.
func (s *JSONStateStore) Load(_ context.Context) (map[string]stock.StateRecord, error) {
	records, _ := s.doc.Read()
	if records == nil {
		records = make(map[string]stock.StateRecord)
	}
	return records, nil
}

// Save atomically writes every record.
func (s *JSONStateStore) Save(_ context.Context, records map[string]stock.StateRecord) error {
	if records == nil {
		records = map[string]stock.StateRecord{}
	}
	return s.doc.Write(records)
}
