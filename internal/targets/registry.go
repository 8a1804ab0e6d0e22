// Package targets loads and validates the list of monitored product pages.
package targets

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/JakeFAU/restockwatch/internal/stock"
)

// LoadError reports a missing or malformed target list. It is always fatal.
type LoadError struct {
	Path  string
	Index int // -1 when the error is not tied to a single entry
	Err   error
}

func (e *LoadError) Error() string {
	if e.Index >= 0 {
		return fmt.Sprintf("load targets %s: entry %d: %v", e.Path, e.Index, e.Err)
	}
	return fmt.Sprintf("load targets %s: %v", e.Path, e.Err)
}

func (e *LoadError) Unwrap() error {
	return e.Err
}

// entry mirrors the on-disk target schema.
type entry struct {
	Name                   string   `json:"name" yaml:"name"`
	URL                    string   `json:"url" yaml:"url"`
	InStockCSS             string   `json:"in_stock_css" yaml:"in_stock_css"`
	InStockTextContains    []string `json:"in_stock_text_contains" yaml:"in_stock_text_contains"`
	OutOfStockCSS          string   `json:"out_of_stock_css" yaml:"out_of_stock_css"`
	OutOfStockTextContains []string `json:"out_of_stock_text_contains" yaml:"out_of_stock_text_contains"`
}

// Registry is the ordered, URL-indexed set of monitored targets.
type Registry struct {
	targets []stock.Target
	byURL   map[string]int
}

// Load reads a JSON or YAML target list from path.
func Load(path string) (*Registry, error) {
	data, err := os.ReadFile(path) // #nosec G304 -- path comes from operator configuration.
	if err != nil {
		return nil, &LoadError{Path: path, Index: -1, Err: err}
	}
	reg, err := Parse(data, formatFor(path))
	if err != nil {
		var le *LoadError
		if errors.As(err, &le) {
			le.Path = path
			return nil, le
		}
		return nil, &LoadError{Path: path, Index: -1, Err: err}
	}
	return reg, nil
}

// Format names a target-list encoding.
type Format string

// Supported encodings.
const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

func formatFor(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML
	default:
		return FormatJSON
	}
}

// Parse decodes and validates a target list. Unknown fields are rejected.
func Parse(data []byte, format Format) (*Registry, error) {
	var entries []entry
	switch format {
	case FormatYAML:
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&entries); err != nil && !errors.Is(err, io.EOF) {
			return nil, &LoadError{Index: -1, Err: fmt.Errorf("decode yaml: %w", err)}
		}
	default:
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&entries); err != nil {
			return nil, &LoadError{Index: -1, Err: fmt.Errorf("decode json: %w", err)}
		}
	}
	return build(entries)
}

// New builds a registry from already-typed targets, applying the same
// validation as Load.
func New(list []stock.Target) (*Registry, error) {
	reg := &Registry{byURL: make(map[string]int, len(list))}
	for i, t := range list {
		if err := reg.add(t); err != nil {
			return nil, &LoadError{Index: i, Err: err}
		}
	}
	return reg, nil
}

func build(entries []entry) (*Registry, error) {
	list := make([]stock.Target, 0, len(entries))
	for _, e := range entries {
		list = append(list, e.toTarget())
	}
	return New(list)
}

func (e entry) toTarget() stock.Target {
	t := stock.Target{
		Name: strings.TrimSpace(e.Name),
		URL:  strings.TrimSpace(e.URL),
	}
	if e.InStockCSS != "" || len(e.InStockTextContains) > 0 {
		t.InStock = &stock.Rule{Selector: strings.TrimSpace(e.InStockCSS), Contains: e.InStockTextContains}
	}
	if e.OutOfStockCSS != "" || len(e.OutOfStockTextContains) > 0 {
		t.OutOfStock = &stock.Rule{Selector: strings.TrimSpace(e.OutOfStockCSS), Contains: e.OutOfStockTextContains}
	}
	return t
}

func (r *Registry) add(t stock.Target) error {
	if t.Name == "" {
		return errors.New("name is required")
	}
	if t.URL == "" {
		return errors.New("url is required")
	}
	u, err := url.Parse(t.URL)
	if err != nil {
		return fmt.Errorf("parse url %q: %w", t.URL, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("url %q must be an absolute http(s) URL", t.URL)
	}
	if _, dup := r.byURL[t.URL]; dup {
		return fmt.Errorf("duplicate url %q", t.URL)
	}
	r.byURL[t.URL] = len(r.targets)
	r.targets = append(r.targets, t)
	return nil
}

// All returns a copy of the targets in file order.
func (r *Registry) All() []stock.Target {
	if r == nil {
		return nil
	}
	return append([]stock.Target(nil), r.targets...)
}

// Len reports the number of targets.
func (r *Registry) Len() int {
	if r == nil {
		return 0
	}
	return len(r.targets)
}

// Lookup returns the target registered for url.
func (r *Registry) Lookup(rawURL string) (stock.Target, bool) {
	if r == nil {
		return stock.Target{}, false
	}
	idx, ok := r.byURL[rawURL]
	if !ok {
		return stock.Target{}, false
	}
	return r.targets[idx], true
}
