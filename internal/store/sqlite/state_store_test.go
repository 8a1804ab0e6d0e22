package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/restockwatch/internal/stock"
)

func openTemp(t *testing.T) (*StateStore, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "state.db")
	s, err := Open(context.Background(), path, "")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s, path
}

func TestLoadEmpty(t *testing.T) {
	t.Parallel()

	s, _ := openTemp(t)
	got, err := s.Load(context.Background())
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestSaveLoadAndUpsert(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s, path := openTemp(t)

	checked := time.Date(2025, 3, 1, 12, 0, 0, 123, time.UTC)
	notified := checked.Add(-time.Minute)
	require.NoError(t, s.Save(ctx, map[string]stock.StateRecord{
		"https://a.example": {Name: "A", Verdict: stock.VerdictInStock, ContentHash: "h1", LastCheckedAt: checked, LastNotifiedAt: &notified},
		"https://b.example": {Name: "B", Verdict: stock.VerdictOutOfStock, LastCheckedAt: checked},
	}))

	later := checked.Add(time.Hour)
	require.NoError(t, s.Save(ctx, map[string]stock.StateRecord{
		"https://b.example": {Name: "B", Verdict: stock.VerdictUnknown, ContentHash: "h2", LastCheckedAt: later},
	}))
	require.NoError(t, s.Close())

	reopened, err := Open(ctx, path, DefaultTable)
	require.NoError(t, err)
	defer reopened.Close()

	got, err := reopened.Load(ctx)
	require.NoError(t, err)
	require.Len(t, got, 2, "rows absent from a save are kept")

	a := got["https://a.example"]
	assert.Equal(t, stock.VerdictInStock, a.Verdict)
	assert.True(t, checked.Equal(a.LastCheckedAt))
	require.NotNil(t, a.LastNotifiedAt)
	assert.True(t, notified.Equal(*a.LastNotifiedAt))

	b := got["https://b.example"]
	assert.Equal(t, stock.VerdictUnknown, b.Verdict)
	assert.Equal(t, "h2", b.ContentHash)
	assert.True(t, later.Equal(b.LastCheckedAt))
	assert.Nil(t, b.LastNotifiedAt)
}

func TestTablesShareOneFile(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	primary, path := openTemp(t)
	light, err := Open(ctx, path, "restock_state_light")
	require.NoError(t, err)
	defer light.Close()

	checked := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, light.Save(ctx, map[string]stock.StateRecord{
		"https://a.example": {Name: "A", Verdict: stock.VerdictInStock, LastCheckedAt: checked},
	}))

	got, err := primary.Load(ctx)
	require.NoError(t, err)
	assert.Empty(t, got)

	got, err = light.Load(ctx)
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestOpenRejectsBadTableName(t *testing.T) {
	t.Parallel()

	_, err := Open(context.Background(), filepath.Join(t.TempDir(), "state.db"), "state; DROP TABLE x")
	require.Error(t, err)
}
