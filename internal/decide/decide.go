// Package decide turns fetched page content into a stock verdict.
//
// Two engines are provided. Decide anchors the verdict to elements matched by
// CSS selectors; DecideKeywords scans the raw document for well-known cart and
// sold-out phrases. Both are pure functions of their inputs.
package decide

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/andybalholm/cascadia"
	"golang.org/x/net/html"

	"github.com/JakeFAU/restockwatch/internal/stock"
)

// ParseError reports a selector or document that could not be evaluated.
// Callers degrade the target to stock.VerdictUnknown.
type ParseError struct {
	Selector string
	Err      error
}

func (e *ParseError) Error() string {
	if e.Selector == "" {
		return fmt.Sprintf("parse document: %v", e.Err)
	}
	return fmt.Sprintf("parse selector %q: %v", e.Selector, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// Decide evaluates the in-stock rule first and the out-of-stock rule second;
// the first rule that matches wins. A rule with an empty selector is treated
// as absent.
func Decide(content []byte, in, out *stock.Rule) (stock.Verdict, error) {
	if !hasSelector(in) && !hasSelector(out) {
		return stock.VerdictUnknown, nil
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(content))
	if err != nil {
		return stock.VerdictUnknown, &ParseError{Err: err}
	}

	if hasSelector(in) {
		ok, err := matches(doc, in)
		if err != nil {
			return stock.VerdictUnknown, err
		}
		if ok {
			return stock.VerdictInStock, nil
		}
	}
	if hasSelector(out) {
		ok, err := matches(doc, out)
		if err != nil {
			return stock.VerdictUnknown, err
		}
		if ok {
			return stock.VerdictOutOfStock, nil
		}
	}
	return stock.VerdictUnknown, nil
}

func hasSelector(rule *stock.Rule) bool {
	return rule != nil && strings.TrimSpace(rule.Selector) != ""
}

// matches compiles the selector up front; goquery silently yields an empty
// selection for invalid selectors.
func matches(doc *goquery.Document, rule *stock.Rule) (bool, error) {
	sel, err := cascadia.Compile(rule.Selector)
	if err != nil {
		return false, &ParseError{Selector: rule.Selector, Err: err}
	}
	found := false
	doc.FindMatcher(sel).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if rule.Contains == nil {
			found = true
			return false
		}
		text := NormalizedText(s.Nodes[0])
		for _, needle := range rule.Contains {
			if needle != "" && strings.Contains(text, needle) {
				found = true
				return false
			}
		}
		return true
	})
	return found, nil
}

// NormalizedText joins the element's text nodes with single spaces and
// collapses runs of whitespace.
func NormalizedText(n *html.Node) string {
	var parts []string
	var walk func(*html.Node)
	walk = func(node *html.Node) {
		if node == nil {
			return
		}
		if node.Type == html.TextNode {
			if s := strings.TrimSpace(node.Data); s != "" {
				parts = append(parts, s)
			}
			return
		}
		for child := node.FirstChild; child != nil; child = child.NextSibling {
			walk(child)
		}
	}
	walk(n)
	return strings.Join(strings.Fields(strings.Join(parts, " ")), " ")
}
