package collyfetcher

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"testing"
	"time"

	"github.com/gocolly/colly/v2"
	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/restockwatch/internal/fetcher"
	"github.com/JakeFAU/restockwatch/internal/stock"
)

const itemURL = "https://shop.example/item"

func response(status int, body string, header http.Header) *http.Response {
	resp := httpmock.NewStringResponse(status, body)
	if resp.Header == nil {
		resp.Header = http.Header{}
	}
	for k, v := range header {
		resp.Header[k] = v
	}
	return resp
}

func TestFetchReturnsBodyAndValidators(t *testing.T) {
	t.Parallel()

	transport := httpmock.NewMockTransport()
	transport.RegisterResponder(http.MethodGet, itemURL, func(req *http.Request) (*http.Response, error) {
		assert.Equal(t, "restock-test", req.Header.Get("User-Agent"))
		assert.Equal(t, "ja", req.Header.Get("Accept-Language"))
		assert.Empty(t, req.Header.Get("If-None-Match"))
		return response(http.StatusOK, "<button>Add to cart</button>", http.Header{
			"Etag":          {`"v1"`},
			"Last-Modified": {"Sat, 01 Mar 2025 12:00:00 GMT"},
		}), nil
	})

	f := New(Config{UserAgent: "restock-test", AcceptLanguage: "ja", Timeout: time.Second, Transport: transport})
	resp, err := f.Fetch(context.Background(), stock.FetchRequest{URL: itemURL})
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.False(t, resp.NotModified)
	assert.Equal(t, "<button>Add to cart</button>", string(resp.Body))
	assert.Equal(t, `"v1"`, resp.Validators.ETag)
	assert.Equal(t, "Sat, 01 Mar 2025 12:00:00 GMT", resp.Validators.LastModified)

	outcome, err := fetcher.Classify(resp, nil)
	require.NoError(t, err)
	assert.Equal(t, stock.OutcomeFetched, outcome)
}

func TestFetchSendsConditionalHeaders(t *testing.T) {
	t.Parallel()

	transport := httpmock.NewMockTransport()
	transport.RegisterResponder(http.MethodGet, itemURL, func(req *http.Request) (*http.Response, error) {
		if req.Header.Get("If-None-Match") == `"v1"` &&
			req.Header.Get("If-Modified-Since") == "Sat, 01 Mar 2025 12:00:00 GMT" {
			return response(http.StatusNotModified, "", nil), nil
		}
		return response(http.StatusOK, "changed", nil), nil
	})

	f := New(Config{Transport: transport})
	validators := stock.CacheValidators{ETag: `"v1"`, LastModified: "Sat, 01 Mar 2025 12:00:00 GMT"}

	for i := 0; i < 2; i++ {
		resp, err := f.Fetch(context.Background(), stock.FetchRequest{URL: itemURL, Validators: validators})
		require.NoError(t, err)
		assert.True(t, resp.NotModified)
		assert.Equal(t, http.StatusNotModified, resp.StatusCode)
		assert.Empty(t, resp.Body)
	}
	assert.Equal(t, 2, transport.GetTotalCallCount(), "revisits must not be deduplicated")
}

func TestFetchUnexpectedStatus(t *testing.T) {
	t.Parallel()

	transport := httpmock.NewMockTransport()
	transport.RegisterResponder(http.MethodGet, itemURL, httpmock.NewStringResponder(http.StatusServiceUnavailable, "busy"))

	f := New(Config{Transport: transport})
	resp, err := f.Fetch(context.Background(), stock.FetchRequest{URL: itemURL})
	require.Error(t, err)
	assert.ErrorIs(t, err, fetcher.ErrUnexpectedStatus)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestFetchTransportError(t *testing.T) {
	t.Parallel()

	boom := errors.New("connection reset")
	transport := httpmock.NewMockTransport()
	transport.RegisterResponder(http.MethodGet, itemURL, httpmock.NewErrorResponder(boom))

	f := New(Config{Transport: transport})
	_, err := f.Fetch(context.Background(), stock.FetchRequest{URL: itemURL})
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
}

func TestFetchCanceledContext(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	transport := httpmock.NewMockTransport()
	transport.RegisterResponder(http.MethodGet, itemURL, func(*http.Request) (*http.Response, error) {
		<-release
		return response(http.StatusOK, "late", nil), nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	f := New(Config{Transport: transport})
	_, err := f.Fetch(ctx, stock.FetchRequest{URL: itemURL})
	close(release)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestConfigureCollectorHooks(t *testing.T) {
	t.Parallel()

	f := New(Config{AcceptLanguage: "en"})
	req := stock.FetchRequest{URL: itemURL, Validators: stock.CacheValidators{ETag: "abc"}}
	var result stock.FetchResponse
	var fetchErr error

	hooks := &stubHooks{}
	f.configureCollectorHooks(hooks, req, time.Unix(0, 0), &result, &fetchErr)
	require.NotNil(t, hooks.onRequest)
	require.NotNil(t, hooks.onResponse)
	require.NotNil(t, hooks.onError)

	collyReq := &colly.Request{Headers: &http.Header{}}
	hooks.onRequest(collyReq)
	assert.Equal(t, "abc", collyReq.Headers.Get("If-None-Match"))
	assert.Empty(t, collyReq.Headers.Get("If-Modified-Since"))
	assert.Equal(t, "en", collyReq.Headers.Get("Accept-Language"))

	hooks.onResponse(&colly.Response{
		StatusCode: http.StatusNotModified,
		Body:       []byte("ignored"),
		Headers:    &http.Header{"Etag": {"abc"}},
		Request:    &colly.Request{URL: mustParseURL(t, itemURL)},
	})
	assert.True(t, result.NotModified)
	assert.Nil(t, result.Body)
	assert.Equal(t, "abc", result.Validators.ETag)

	hooks.onError(&colly.Response{StatusCode: http.StatusBadGateway}, errors.New("boom"))
	require.EqualError(t, fetchErr, "boom")
	assert.Equal(t, http.StatusBadGateway, result.StatusCode)
}

func mustParseURL(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("failed to parse url %q: %v", raw, err)
	}
	return u
}

type stubHooks struct {
	onRequest  colly.RequestCallback
	onResponse colly.ResponseCallback
	onError    colly.ErrorCallback
}

func (s *stubHooks) OnRequest(cb colly.RequestCallback) {
	s.onRequest = cb
}

func (s *stubHooks) OnResponse(cb colly.ResponseCallback) {
	s.onResponse = cb
}

func (s *stubHooks) OnError(cb colly.ErrorCallback) {
	s.onError = cb
}
