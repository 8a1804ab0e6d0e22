package fetcher

import (
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/restockwatch/internal/stock"
)

func TestClassify(t *testing.T) {
	t.Parallel()

	boom := errors.New("dial tcp: timeout")
	tests := []struct {
		name    string
		resp    stock.FetchResponse
		err     error
		want    stock.Outcome
		wantErr error
	}{
		{name: "ok", resp: stock.FetchResponse{StatusCode: http.StatusOK}, want: stock.OutcomeFetched},
		{name: "no content", resp: stock.FetchResponse{StatusCode: http.StatusNoContent}, want: stock.OutcomeFetched},
		{name: "not modified", resp: stock.FetchResponse{StatusCode: http.StatusNotModified}, want: stock.OutcomeNotModified},
		{name: "not modified flag", resp: stock.FetchResponse{NotModified: true}, want: stock.OutcomeNotModified},
		{name: "server error", resp: stock.FetchResponse{StatusCode: http.StatusBadGateway}, want: stock.OutcomeFailed, wantErr: ErrUnexpectedStatus},
		{name: "redirect leftover", resp: stock.FetchResponse{StatusCode: http.StatusFound}, want: stock.OutcomeFailed, wantErr: ErrUnexpectedStatus},
		{name: "transport error", err: boom, want: stock.OutcomeFailed, wantErr: boom},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := Classify(tt.resp, tt.err)
			assert.Equal(t, tt.want, got)
			if tt.wantErr == nil {
				require.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestResultCarriesTarget(t *testing.T) {
	t.Parallel()

	target := stock.Target{Name: "Widget", URL: "https://shop.example/w"}
	res := Result(stock.FetchResponse{StatusCode: http.StatusServiceUnavailable}, nil, target)
	assert.Equal(t, target, res.Target)
	assert.Equal(t, stock.OutcomeFailed, res.Outcome)
	assert.Contains(t, res.Err.Error(), "503")
}
