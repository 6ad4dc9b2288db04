// Package websearch is the web search backend behind the web_search tool.
// It queries SearXNG or DuckDuckGo and caches responses with a TTL.
package websearch

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

// Backend selects the search engine.
type Backend string

const (
	BackendDuckDuckGo Backend = "duckduckgo"
	BackendSearXNG    Backend = "searxng"

	// maxCacheSize bounds the response cache.
	maxCacheSize = 1000

	maxResults = 20
)

// Config holds search backend configuration.
type Config struct {
	// SearXNGURL points at a SearXNG instance; when set the default
	// backend becomes searxng.
	SearXNGURL string `yaml:"searxng_url"`

	Backend Backend `yaml:"backend"`

	// DefaultResultCount is used when a query does not say how many.
	DefaultResultCount int `yaml:"default_result_count"`

	// CacheTTL is the response cache lifetime in seconds.
	CacheTTL int `yaml:"cache_ttl"`

	Timeout time.Duration `yaml:"timeout"`
}

// Result is a single search hit.
type Result struct {
	Rank    int    `json:"rank"`
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet"`
}

type cacheEntry struct {
	results   []Result
	expiresAt time.Time
}

// Client performs web searches with caching and backend fallback.
type Client struct {
	config     Config
	httpClient *http.Client
	logger     *slog.Logger

	// duckDuckGoURL is swappable in tests.
	duckDuckGoURL string

	cacheMu sync.RWMutex
	cache   map[string]*cacheEntry
}

// NewClient creates a search client with defaults applied.
func NewClient(cfg Config, logger *slog.Logger) *Client {
	if cfg.DefaultResultCount <= 0 {
		cfg.DefaultResultCount = 5
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = 300
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.Backend == "" {
		if cfg.SearXNGURL != "" {
			cfg.Backend = BackendSearXNG
		} else {
			cfg.Backend = BackendDuckDuckGo
		}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		config:        cfg,
		httpClient:    &http.Client{Timeout: cfg.Timeout},
		logger:        logger,
		duckDuckGoURL: "https://api.duckduckgo.com/",
		cache:         make(map[string]*cacheEntry),
	}
}

// Search runs a query against the configured backend. A SearXNG failure
// falls back to DuckDuckGo before giving up.
func (c *Client) Search(ctx context.Context, query string, numResults int) ([]Result, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, fmt.Errorf("query is required")
	}
	if numResults <= 0 {
		numResults = c.config.DefaultResultCount
	}
	if numResults > maxResults {
		numResults = maxResults
	}

	key := fmt.Sprintf("%s:%d:%s", c.config.Backend, numResults, query)
	if cached := c.getFromCache(key); cached != nil {
		return cached, nil
	}

	results, err := c.searchBackend(ctx, c.config.Backend, query, numResults)
	if err != nil && c.config.Backend != BackendDuckDuckGo {
		c.logger.Warn("search backend failed, falling back to duckduckgo",
			"backend", c.config.Backend, "error", err)
		results, err = c.searchBackend(ctx, BackendDuckDuckGo, query, numResults)
	}
	if err != nil {
		return nil, err
	}

	for i := range results {
		results[i].Rank = i + 1
	}
	c.putInCache(key, results)
	return results, nil
}

func (c *Client) searchBackend(ctx context.Context, backend Backend, query string, numResults int) ([]Result, error) {
	switch backend {
	case BackendSearXNG:
		return c.searchSearXNG(ctx, query, numResults)
	case BackendDuckDuckGo:
		return c.searchDuckDuckGo(ctx, query, numResults)
	default:
		return nil, fmt.Errorf("unknown backend: %s", backend)
	}
}

func (c *Client) searchSearXNG(ctx context.Context, query string, numResults int) ([]Result, error) {
	if c.config.SearXNGURL == "" {
		return nil, fmt.Errorf("searxng URL not configured")
	}
	searchURL, err := url.Parse(c.config.SearXNGURL)
	if err != nil {
		return nil, fmt.Errorf("invalid searxng URL: %w", err)
	}
	q := url.Values{}
	q.Set("q", query)
	q.Set("format", "json")
	q.Set("pageno", "1")
	q.Set("categories", "general")
	searchURL.Path = "/search"
	searchURL.RawQuery = q.Encode()

	body, err := c.get(ctx, searchURL.String())
	if err != nil {
		return nil, err
	}

	var resp struct {
		Results []struct {
			Title   string `json:"title"`
			URL     string `json:"url"`
			Content string `json:"content"`
		} `json:"results"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("parse searxng response: %w", err)
	}

	results := make([]Result, 0, numResults)
	for _, r := range resp.Results {
		if len(results) >= numResults {
			break
		}
		results = append(results, Result{Title: r.Title, URL: r.URL, Snippet: r.Content})
	}
	return results, nil
}

func (c *Client) searchDuckDuckGo(ctx context.Context, query string, numResults int) ([]Result, error) {
	instantURL := fmt.Sprintf("%s?q=%s&format=json&no_html=1",
		c.duckDuckGoURL, url.QueryEscape(query))

	body, err := c.get(ctx, instantURL)
	if err != nil {
		return nil, err
	}

	var resp struct {
		AbstractText  string `json:"AbstractText"`
		AbstractURL   string `json:"AbstractURL"`
		Heading       string `json:"Heading"`
		RelatedTopics []struct {
			FirstURL string `json:"FirstURL"`
			Text     string `json:"Text"`
		} `json:"RelatedTopics"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("parse duckduckgo response: %w", err)
	}

	var results []Result
	if resp.AbstractText != "" && resp.AbstractURL != "" {
		results = append(results, Result{
			Title:   resp.Heading,
			URL:     resp.AbstractURL,
			Snippet: resp.AbstractText,
		})
	}
	for _, topic := range resp.RelatedTopics {
		if len(results) >= numResults {
			break
		}
		if topic.FirstURL == "" || topic.Text == "" {
			continue
		}
		title := topic.Text
		if len(title) > 100 {
			title = title[:100]
		}
		results = append(results, Result{
			Title:   title,
			URL:     topic.FirstURL,
			Snippet: topic.Text,
		})
	}
	return results, nil
}

func (c *Client) get(ctx context.Context, rawURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (compatible; SidekickBot/1.0)")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("search backend returned status %d", resp.StatusCode)
	}
	return io.ReadAll(io.LimitReader(resp.Body, 4<<20))
}

func (c *Client) getFromCache(key string) []Result {
	c.cacheMu.RLock()
	defer c.cacheMu.RUnlock()
	entry, ok := c.cache[key]
	if !ok || time.Now().After(entry.expiresAt) {
		return nil
	}
	return entry.results
}

func (c *Client) putInCache(key string, results []Result) {
	c.cacheMu.Lock()
	defer c.cacheMu.Unlock()

	now := time.Now()
	for k, v := range c.cache {
		if now.After(v.expiresAt) {
			delete(c.cache, k)
		}
	}
	for len(c.cache) >= maxCacheSize {
		var oldestKey string
		var oldestTime time.Time
		for k, v := range c.cache {
			if oldestKey == "" || v.expiresAt.Before(oldestTime) {
				oldestKey = k
				oldestTime = v.expiresAt
			}
		}
		if oldestKey == "" {
			break
		}
		delete(c.cache, oldestKey)
	}

	c.cache[key] = &cacheEntry{
		results:   results,
		expiresAt: now.Add(time.Duration(c.config.CacheTTL) * time.Second),
	}
}

// FormatResults renders hits as the numbered text block fed back to the
// conversation.
func FormatResults(results []Result) string {
	if len(results) == 0 {
		return "抱歉，没有找到相关结果。"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "找到 %d 条相关结果：\n", len(results))
	for _, r := range results {
		fmt.Fprintf(&b, "\n[%d] %s\n    %s\n    来源: %s\n", r.Rank, r.Title, r.Snippet, r.URL)
	}
	return b.String()
}
