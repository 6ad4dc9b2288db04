package websearch

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestSearchSearXNG(t *testing.T) {
	var hits int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		if r.URL.Path != "/search" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if got := r.URL.Query().Get("q"); got != "golang" {
			t.Errorf("q = %q", got)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"results": []map[string]any{
				{"title": "Go", "url": "https://go.dev", "content": "The Go programming language"},
				{"title": "Go blog", "url": "https://go.dev/blog", "content": "News"},
				{"title": "Go spec", "url": "https://go.dev/ref/spec", "content": "Spec"},
			},
		})
	}))
	defer srv.Close()

	client := NewClient(Config{SearXNGURL: srv.URL}, nil)
	results, err := client.Search(context.Background(), "golang", 2)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("len = %d", len(results))
	}
	if results[0].Title != "Go" || results[0].Rank != 1 || results[1].Rank != 2 {
		t.Errorf("results = %+v", results)
	}

	// Second identical query is served from cache.
	if _, err := client.Search(context.Background(), "golang", 2); err != nil {
		t.Fatalf("cached Search: %v", err)
	}
	if hits != 1 {
		t.Errorf("backend hits = %d, want 1", hits)
	}
}

func TestSearchDuckDuckGo(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"Heading":      "Golang",
			"AbstractText": "Go is a language.",
			"AbstractURL":  "https://go.dev",
			"RelatedTopics": []map[string]any{
				{"FirstURL": "https://go.dev/doc", "Text": "Documentation"},
				{"FirstURL": "", "Text": "dropped"},
			},
		})
	}))
	defer srv.Close()

	client := NewClient(Config{Backend: BackendDuckDuckGo}, nil)
	client.duckDuckGoURL = srv.URL + "/"

	results, err := client.Search(context.Background(), "golang", 5)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("results = %+v", results)
	}
	if results[0].Title != "Golang" || results[0].URL != "https://go.dev" {
		t.Errorf("abstract result = %+v", results[0])
	}
	if results[1].Title != "Documentation" {
		t.Errorf("topic result = %+v", results[1])
	}
}

func TestSearchFallsBackToDuckDuckGo(t *testing.T) {
	searx := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer searx.Close()
	ddg := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"Heading":      "Backup",
			"AbstractText": "From the fallback engine.",
			"AbstractURL":  "https://example.com",
		})
	}))
	defer ddg.Close()

	client := NewClient(Config{SearXNGURL: searx.URL}, nil)
	client.duckDuckGoURL = ddg.URL + "/"

	results, err := client.Search(context.Background(), "anything", 3)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 1 || results[0].Title != "Backup" {
		t.Errorf("results = %+v", results)
	}
}

func TestSearchEmptyQuery(t *testing.T) {
	client := NewClient(Config{}, nil)
	if _, err := client.Search(context.Background(), "  ", 5); err == nil {
		t.Fatal("expected error for empty query")
	}
}

func TestCacheExpiry(t *testing.T) {
	client := NewClient(Config{CacheTTL: 60}, nil)
	client.putInCache("k", []Result{{Title: "a"}})
	if got := client.getFromCache("k"); got == nil {
		t.Fatal("fresh entry should hit")
	}
	client.cacheMu.Lock()
	client.cache["k"].expiresAt = time.Now().Add(-time.Second)
	client.cacheMu.Unlock()
	if got := client.getFromCache("k"); got != nil {
		t.Error("expired entry should miss")
	}
}

func TestFormatResults(t *testing.T) {
	if got := FormatResults(nil); got != "抱歉，没有找到相关结果。" {
		t.Errorf("empty format = %q", got)
	}
	text := FormatResults([]Result{
		{Rank: 1, Title: "Go", URL: "https://go.dev", Snippet: "语言官网"},
	})
	for _, want := range []string{"找到 1 条相关结果", "[1] Go", "来源: https://go.dev", "语言官网"} {
		if !strings.Contains(text, want) {
			t.Errorf("format missing %q in %q", want, text)
		}
	}
}
