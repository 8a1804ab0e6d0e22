package decide

import (
	"bytes"
	"strings"

	"github.com/JakeFAU/restockwatch/internal/stock"
)

// Default phrases used when a target carries no keyword override.
var (
	DefaultInStockWords    = []string{"カートに追加する", "今すぐ購入", "Add to cart", "Buy now"}
	DefaultOutOfStockWords = []string{"在庫切れ", "売り切れ", "SOLD OUT", "在庫なし", "再入荷を通知"}
)

// DecideKeywords performs a case-insensitive substring search over the raw
// content. In-stock words take precedence over out-of-stock words. Nil or
// empty word lists fall back to the defaults.
func DecideKeywords(content []byte, in, out []string) stock.Verdict {
	if len(in) == 0 {
		in = DefaultInStockWords
	}
	if len(out) == 0 {
		out = DefaultOutOfStockWords
	}
	lower := bytes.ToLower(content)
	if containsAny(lower, in) {
		return stock.VerdictInStock
	}
	if containsAny(lower, out) {
		return stock.VerdictOutOfStock
	}
	return stock.VerdictUnknown
}

// DecideTargetKeywords applies DecideKeywords with the target's overrides.
func DecideTargetKeywords(content []byte, target stock.Target) stock.Verdict {
	return DecideKeywords(content, target.InStockWords(), target.OutOfStockWords())
}

func containsAny(lowerBody []byte, words []string) bool {
	for _, w := range words {
		w = strings.TrimSpace(w)
		if w == "" {
			continue
		}
		if bytes.Contains(lowerBody, []byte(strings.ToLower(w))) {
			return true
		}
	}
	return false
}
