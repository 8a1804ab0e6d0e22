// Package collyfetcher implements a conditional Fetcher using gocolly.
package collyfetcher

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/JakeFAU/restockwatch/internal/fetcher"
	"github.com/JakeFAU/restockwatch/internal/stock"
)

// DefaultTimeout bounds a single request when Config.Timeout is zero.
const DefaultTimeout = 12 * time.Second

// Config controls collector behavior.
type Config struct {
	UserAgent      string
	RespectRobots  bool
	Timeout        time.Duration
	AcceptLanguage string
	// Transport overrides the pooled HTTP transport, mainly for tests.
	Transport http.RoundTripper
}

// Fetcher implements stock.Fetcher using the Colly collector.
type Fetcher struct {
	cfg           Config
	baseCollector *colly.Collector
}

type collectorHooks interface {
	OnRequest(colly.RequestCallback)
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

// New builds a Fetcher.
func New(cfg Config) *Fetcher {
	c := colly.NewCollector(colly.Async(false), colly.AllowURLRevisit())
	// 304 and error statuses must reach OnResponse so they can be classified.
	c.ParseHTTPErrorResponse = true

	if cfg.UserAgent != "" {
		c.UserAgent = cfg.UserAgent
	}
	c.IgnoreRobotsTxt = !cfg.RespectRobots
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	c.SetRequestTimeout(timeout)

	// Clones share the backend, so the transport is fixed here once.
	var transport http.RoundTripper = newHTTPTransport()
	if cfg.Transport != nil {
		transport = cfg.Transport
	}
	if cfg.RespectRobots {
		transport = &robotsAwareTransport{base: transport}
	}
	c.WithTransport(transport)

	return &Fetcher{
		cfg:           cfg,
		baseCollector: c,
	}
}

// Fetch executes a single conditional GET using Colly. A 304 is reported via
// FetchResponse.NotModified; any other non-2xx status wraps
// fetcher.ErrUnexpectedStatus.
func (f *Fetcher) Fetch(ctx context.Context, request stock.FetchRequest) (stock.FetchResponse, error) {
	var (
		result   stock.FetchResponse
		fetchErr error
	)
	start := time.Now()
	collector := f.buildCollector(request, start, &result, &fetchErr)

	if err := f.runCollector(ctx, collector, request.URL, &fetchErr); err != nil {
		return result, err
	}
	if result.StatusCode == 0 {
		return result, fmt.Errorf("colly fetch %s: no response", request.URL)
	}
	if result.NotModified || (result.StatusCode >= 200 && result.StatusCode < 300) {
		return result, nil
	}
	return result, fetcher.UnexpectedStatus(result.StatusCode)
}

func (f *Fetcher) buildCollector(
	request stock.FetchRequest,
	start time.Time,
	result *stock.FetchResponse,
	fetchErr *error,
) *colly.Collector {
	collector := f.baseCollector.Clone()
	collector.ParseHTTPErrorResponse = true
	f.configureCollectorHooks(collector, request, start, result, fetchErr)
	return collector
}

func (f *Fetcher) configureCollectorHooks(
	hooks collectorHooks,
	request stock.FetchRequest,
	start time.Time,
	result *stock.FetchResponse,
	fetchErr *error,
) {
	hooks.OnRequest(func(r *colly.Request) {
		f.setRequestHeaders(request, r)
	})

	hooks.OnResponse(func(r *colly.Response) {
		resp := stock.FetchResponse{
			URL:         r.Request.URL.String(),
			StatusCode:  r.StatusCode,
			NotModified: r.StatusCode == http.StatusNotModified,
			Duration:    time.Since(start),
		}
		if r.Headers != nil {
			resp.Validators = stock.CacheValidators{
				ETag:         r.Headers.Get("ETag"),
				LastModified: r.Headers.Get("Last-Modified"),
			}
		}
		if !resp.NotModified {
			resp.Body = append([]byte(nil), r.Body...)
		}
		*result = resp
	})

	hooks.OnError(func(r *colly.Response, err error) {
		if r != nil && r.StatusCode != 0 {
			result.StatusCode = r.StatusCode
		}
		result.Duration = time.Since(start)
		*fetchErr = err
	})
}

func (f *Fetcher) runCollector(ctx context.Context, collector *colly.Collector, url string, fetchErr *error) error {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(url)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("colly fetch canceled: %w", ctx.Err())
	case err := <-done:
		if err != nil {
			return fmt.Errorf("colly visit failed: %w", err)
		}
		if *fetchErr != nil {
			return fmt.Errorf("colly response failed: %w", *fetchErr)
		}
		return nil
	}
}

func (f *Fetcher) setRequestHeaders(request stock.FetchRequest, r *colly.Request) {
	if r.Headers == nil {
		r.Headers = &http.Header{}
	}
	if f.cfg.AcceptLanguage != "" {
		r.Headers.Set("Accept-Language", f.cfg.AcceptLanguage)
	}
	if request.Validators.ETag != "" {
		r.Headers.Set("If-None-Match", request.Validators.ETag)
	}
	if request.Validators.LastModified != "" {
		r.Headers.Set("If-Modified-Since", request.Validators.LastModified)
	}
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
