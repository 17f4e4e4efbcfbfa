package searxng

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iWorld-y/forecast_radar/app/forecast_radar/pkg/search"
)

func TestClient_Search(t *testing.T) {
	t.Parallel()

	var (
		mu    sync.Mutex
		query url.Values
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		query = r.URL.Query()
		mu.Unlock()
		_ = json.NewEncoder(w).Encode(SearchResponse{Results: []SearchResult{
			{Title: "a", URL: "https://a.example"},
			{Title: "b", URL: "https://b.example"},
			{Title: "c", URL: "https://c.example"},
		}})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, 5)
	c.now = func() time.Time { return time.Date(2025, 3, 8, 12, 0, 0, 0, time.UTC) }

	resp, err := c.Search(context.Background(), &search.Request{
		Query:      "opec output",
		Topic:      "news",
		MaxResults: 2,
		StartDate:  "2025-03-01",
	})
	require.NoError(t, err)
	assert.Len(t, resp.Results, 2)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "opec output", query.Get("q"))
	assert.Equal(t, "json", query.Get("format"))
	assert.Equal(t, "news", query.Get("categories"))
	assert.Equal(t, "month", query.Get("time_range"))
}

func TestClient_TimeRange(t *testing.T) {
	c := NewClient("http://localhost", 0)
	c.now = func() time.Time { return time.Date(2025, 3, 8, 0, 0, 0, 0, time.UTC) }

	assert.Equal(t, "day", c.timeRange("2025-03-07"))
	assert.Equal(t, "week", c.timeRange("2025-03-02"))
	assert.Equal(t, "year", c.timeRange("2024-06-01"))
	assert.Empty(t, c.timeRange(""))
	assert.Empty(t, c.timeRange("last week"))
}

func TestClient_SearchError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL, 5).Search(context.Background(), &search.Request{Query: "x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 429")
}
