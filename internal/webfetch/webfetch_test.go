// ABOUTME: Tests for page fetching and HTML text extraction
// ABOUTME: Uses httptest servers for status, size cap, charset and user agent handling

package webfetch

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/errand/internal/fault"
)

func TestExtractText(t *testing.T) {
	tests := []struct {
		name string
		html string
		want string
	}{
		{
			name: "visible text only",
			html: `<html><head><title>Shop</title><style>body{color:red}</style>
				<script>var x = "hidden";</script></head>
				<body><h1>Hello</h1>
				<p>Contact   us at
				 sales@example.com</p><noscript>enable js</noscript></body></html>`,
			want: "Shop Hello Contact us at sales@example.com",
		},
		{
			name: "entities decoded",
			html: `<p>Fish &amp; Chips &lt;3</p>`,
			want: "Fish & Chips <3",
		},
		{
			name: "template skipped",
			html: `<div>a<template><span>b</span></template>c</div>`,
			want: "a c",
		},
		{
			name: "empty body",
			html: `<html><body>   <script>only()</script> </body></html>`,
			want: "",
		},
		{
			name: "plain text",
			html: "no markup here",
			want: "no markup here",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExtractText(tt.html))
		})
	}
}

func TestFetchText_SendsUserAgent(t *testing.T) {
	var ua string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ua = r.Header.Get("User-Agent")
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte("<p>hi there</p>"))
	}))
	defer srv.Close()

	text, err := New(Config{}, nil).FetchText(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, "hi there", text)
	assert.Equal(t, DefaultUserAgent, ua)
}

func TestFetch_NonSuccessStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := New(Config{}, nil).Fetch(context.Background(), srv.URL)
	require.Error(t, err)
	assert.True(t, fault.Is(err, fault.SourceWeb, fault.KindUpstream))
	assert.Contains(t, err.Error(), "status 404")
}

func TestFetch_BodyCap(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte(strings.Repeat("a", 1000)))
	}))
	defer srv.Close()

	page, err := New(Config{MaxBodyBytes: 100}, nil).Fetch(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Len(t, page, 100)
}

func TestFetch_ConvertsCharset(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=iso-8859-1")
		_, _ = w.Write([]byte("<p>caf\xe9</p>"))
	}))
	defer srv.Close()

	text, err := New(Config{}, nil).FetchText(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, "café", text)
}

func TestFetch_BadURL(t *testing.T) {
	_, err := New(Config{}, nil).Fetch(context.Background(), "not a url at all")
	require.Error(t, err)
	assert.True(t, fault.Is(err, fault.SourceWeb, fault.KindUpstream))
}
