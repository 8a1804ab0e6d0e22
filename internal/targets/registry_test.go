package targets

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadJSON(t *testing.T) {
	t.Parallel()

	path := writeFile(t, "targets.json", `[
		{"name": "Widget", "url": "https://shop.example/widget", "in_stock_css": ".buy", "in_stock_text_contains": ["Add to cart"]},
		{"name": "Gadget", "url": "https://shop.example/gadget", "out_of_stock_css": ".sold-out"}
	]`)

	reg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 2, reg.Len())

	all := reg.All()
	assert.Equal(t, "Widget", all[0].Name)
	require.NotNil(t, all[0].InStock)
	assert.Equal(t, ".buy", all[0].InStock.Selector)
	assert.Equal(t, []string{"Add to cart"}, all[0].InStock.Contains)
	assert.Nil(t, all[0].OutOfStock)

	require.NotNil(t, all[1].OutOfStock)
	assert.Empty(t, all[1].OutOfStock.Contains)

	got, ok := reg.Lookup("https://shop.example/gadget")
	require.True(t, ok)
	assert.Equal(t, "Gadget", got.Name)
	_, ok = reg.Lookup("https://shop.example/missing")
	assert.False(t, ok)
}

func TestLoadKeepsExplicitEmptyContains(t *testing.T) {
	t.Parallel()

	path := writeFile(t, "targets.json", `[
		{"name": "Widget", "url": "https://shop.example/widget", "in_stock_css": ".buy", "in_stock_text_contains": []},
		{"name": "Gadget", "url": "https://shop.example/gadget", "in_stock_css": ".buy"}
	]`)

	reg, err := Load(path)
	require.NoError(t, err)
	all := reg.All()
	require.NotNil(t, all[0].InStock)
	assert.NotNil(t, all[0].InStock.Contains)
	assert.Empty(t, all[0].InStock.Contains)
	require.NotNil(t, all[1].InStock)
	assert.Nil(t, all[1].InStock.Contains)
}

func TestLoadYAML(t *testing.T) {
	t.Parallel()

	path := writeFile(t, "targets.yaml", `
- name: Widget
  url: https://shop.example/widget
  in_stock_text_contains: ["在庫あり"]
`)

	reg, err := Load(path)
	require.NoError(t, err)
	all := reg.All()
	require.Len(t, all, 1)
	assert.Equal(t, []string{"在庫あり"}, all[0].InStockWords())
	assert.Empty(t, all[0].InStock.Selector)
}

func TestLoadErrors(t *testing.T) {
	t.Parallel()

	cases := map[string]struct {
		file  string
		body  string
		index int
	}{
		"malformed json": {file: "t.json", body: `[{"name":`, index: -1},
		"unknown field":  {file: "t.json", body: `[{"name":"a","url":"https://a.example","price":1}]`, index: -1},
		"unknown yaml":   {file: "t.yml", body: "- name: a\n  url: https://a.example\n  color: red\n", index: -1},
		"missing name":   {file: "t.json", body: `[{"url":"https://a.example"}]`, index: 0},
		"missing url":    {file: "t.json", body: `[{"name":"a"}]`, index: 0},
		"bad scheme":     {file: "t.json", body: `[{"name":"a","url":"ftp://a.example"}]`, index: 0},
		"relative url":   {file: "t.json", body: `[{"name":"a","url":"/widget"}]`, index: 0},
		"duplicate url":  {file: "t.json", body: `[{"name":"a","url":"https://a.example"},{"name":"b","url":"https://a.example"}]`, index: 1},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			path := writeFile(t, tc.file, tc.body)
			_, err := Load(path)
			var le *LoadError
			require.True(t, errors.As(err, &le), "expected LoadError, got %v", err)
			assert.Equal(t, path, le.Path)
			assert.Equal(t, tc.index, le.Index)
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	t.Parallel()

	_, err := Load(filepath.Join(t.TempDir(), "nope.json"))
	var le *LoadError
	require.ErrorAs(t, err, &le)
	assert.ErrorIs(t, err, os.ErrNotExist)
	assert.Contains(t, le.Error(), "nope.json")
}

func TestNilRegistry(t *testing.T) {
	t.Parallel()

	var reg *Registry
	assert.Zero(t, reg.Len())
	assert.Nil(t, reg.All())
	_, ok := reg.Lookup("https://a.example")
	assert.False(t, ok)
}
