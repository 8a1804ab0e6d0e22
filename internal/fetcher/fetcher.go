// Package fetcher holds the outcome classification shared by all page
// fetchers.
package fetcher

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/JakeFAU/restockwatch/internal/stock"
)

// ErrUnexpectedStatus marks a response that is neither 2xx nor 304.
var ErrUnexpectedStatus = errors.New("unexpected http status")

// UnexpectedStatus wraps ErrUnexpectedStatus with the offending code.
func UnexpectedStatus(code int) error {
	return fmt.Errorf("%w: %d %s", ErrUnexpectedStatus, code, http.StatusText(code))
}

// Classify maps a fetch attempt to an outcome. A non-nil error always yields
// stock.OutcomeFailed.
func Classify(resp stock.FetchResponse, err error) (stock.Outcome, error) {
	if err != nil {
		return stock.OutcomeFailed, err
	}
	switch {
	case resp.NotModified || resp.StatusCode == http.StatusNotModified:
		return stock.OutcomeNotModified, nil
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return stock.OutcomeFetched, nil
	default:
		return stock.OutcomeFailed, UnexpectedStatus(resp.StatusCode)
	}
}

// Result classifies a fetch attempt for target.
func Result(resp stock.FetchResponse, err error, target stock.Target) stock.FetchResult {
	outcome, cerr := Classify(resp, err)
	return stock.FetchResult{
		Target:   target,
		Outcome:  outcome,
		Response: resp,
		Err:      cerr,
	}
}
