// ABOUTME: Tests for the price feed client against an httptest server
// ABOUTME: Covers the query shape, JSON path lookup and failure classification

package pricefeed

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/errand/internal/fault"
)

func priceServer(t *testing.T, status int, body string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/simple/price", r.URL.Path)
		assert.Equal(t, "bitcoin", r.URL.Query().Get("ids"))
		assert.Equal(t, "usd", r.URL.Query().Get("vs_currencies"))
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestPrice(t *testing.T) {
	srv := priceServer(t, http.StatusOK, `{"bitcoin":{"usd":64250.5}}`)

	price, err := New(Config{BaseURL: srv.URL + "/"}, nil).Price(context.Background(), "bitcoin")
	require.NoError(t, err)
	assert.Equal(t, 64250.5, price)
}

func TestPrice_Failures(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		kind   fault.Kind
	}{
		{"rate limited", http.StatusTooManyRequests, `{"status":{"error_code":429}}`, fault.KindRateLimited},
		{"server error", http.StatusBadGateway, `bad gateway`, fault.KindUpstream},
		{"not json", http.StatusOK, `<html>`, fault.KindMalformed},
		{"unknown coin", http.StatusOK, `{}`, fault.KindEmpty},
		{"string price", http.StatusOK, `{"bitcoin":{"usd":"lots"}}`, fault.KindMalformed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := priceServer(t, tt.status, tt.body)
			_, err := New(Config{BaseURL: srv.URL}, nil).Price(context.Background(), "bitcoin")
			require.Error(t, err)
			assert.Equal(t, fault.SourcePrice, fault.SourceOf(err))
			assert.Equal(t, tt.kind, fault.KindOf(err))
		})
	}
}

func TestNew_Defaults(t *testing.T) {
	c := New(Config{Currency: "EUR"}, nil)
	assert.Equal(t, DefaultBaseURL, c.baseURL)
	assert.Equal(t, "eur", c.Currency())
}
