package llm

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// Strategy selects how the failover client reacts to primary failures.
type Strategy string

const (
	// StrategyFailFast propagates primary errors without trying the backup.
	StrategyFailFast Strategy = "fail_fast"

	// StrategyFallbackOnce retries the failed call on the backup, then
	// returns to the primary for the next call.
	StrategyFallbackOnce Strategy = "fallback_once"

	// StrategyAlwaysFallback retries on the backup and, after enough
	// consecutive primary failures, routes all traffic to the backup.
	StrategyAlwaysFallback Strategy = "always_fallback"
)

// FailoverConfig tunes the primary/backup composition.
type FailoverConfig struct {
	Strategy Strategy

	// CircuitThreshold is the number of consecutive primary failures that
	// latches the backup under StrategyAlwaysFallback.
	CircuitThreshold int

	Logger *slog.Logger
}

// Stats is a point-in-time snapshot of failover counters.
type Stats struct {
	TotalRequests    int64  `json:"total_requests"`
	PrimarySuccess   int64  `json:"primary_success"`
	PrimaryFailures  int64  `json:"primary_failures"`
	FallbackRequests int64  `json:"fallback_requests"`
	FallbackSuccess  int64  `json:"fallback_success"`
	FallbackFailures int64  `json:"fallback_failures"`
	LastError        string `json:"last_error"`
	UsingFallback    bool   `json:"using_fallback"`
}

// FailoverClient composes a primary and a backup Client. It implements
// Client itself so callers are indifferent to the composition.
type FailoverClient struct {
	primary  Client
	backup   Client
	strategy Strategy
	logger   *slog.Logger

	mu                  sync.Mutex
	stats               Stats
	consecutiveFailures int
	circuitThreshold    int
}

var _ Client = (*FailoverClient)(nil)

// NewFailoverClient wraps primary with backup under the given config.
// A nil backup degrades every strategy to fail-fast behavior.
func NewFailoverClient(primary, backup Client, cfg FailoverConfig) *FailoverClient {
	strategy := cfg.Strategy
	if strategy == "" {
		strategy = StrategyFallbackOnce
	}
	threshold := cfg.CircuitThreshold
	if threshold <= 0 {
		threshold = 3
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &FailoverClient{
		primary:          primary,
		backup:           backup,
		strategy:         strategy,
		circuitThreshold: threshold,
		logger:           logger,
	}
}

// Name returns the composed identifier.
func (f *FailoverClient) Name() string {
	if f.backup == nil {
		return f.primary.Name()
	}
	return fmt.Sprintf("%s+%s", f.primary.Name(), f.backup.Name())
}

// Chat routes a completion per the configured strategy.
func (f *FailoverClient) Chat(ctx context.Context, messages []Message, tools []ToolDef, opts Options) (*Response, error) {
	f.mu.Lock()
	f.stats.TotalRequests++
	useBackup := f.stats.UsingFallback && f.backup != nil
	f.mu.Unlock()

	if useBackup {
		return f.chatBackup(ctx, messages, tools, opts)
	}

	resp, err := f.primary.Chat(ctx, messages, tools, opts)
	if err == nil {
		f.recordPrimarySuccess()
		return resp, nil
	}
	f.recordPrimaryFailure(err)

	if f.strategy == StrategyFailFast || f.backup == nil {
		return nil, err
	}

	f.logger.Warn("primary llm failed, retrying on backup",
		"primary", f.primary.Name(), "backup", f.backup.Name(), "error", err)
	return f.chatBackup(ctx, messages, tools, opts)
}

// Stream routes a streaming request, falling back the same way Chat does.
func (f *FailoverClient) Stream(ctx context.Context, messages []Message, opts Options) (<-chan string, error) {
	f.mu.Lock()
	f.stats.TotalRequests++
	useBackup := f.stats.UsingFallback && f.backup != nil
	f.mu.Unlock()

	if useBackup {
		return f.backup.Stream(ctx, messages, opts)
	}

	chunks, err := f.primary.Stream(ctx, messages, opts)
	if err == nil {
		f.recordPrimarySuccess()
		return chunks, nil
	}
	f.recordPrimaryFailure(err)

	if f.strategy == StrategyFailFast || f.backup == nil {
		return nil, err
	}
	return f.backup.Stream(ctx, messages, opts)
}

// Stats returns a snapshot of the counters.
func (f *FailoverClient) Stats() Stats {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stats
}

// Reset closes the latch and points traffic back at the primary.
func (f *FailoverClient) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stats.UsingFallback = false
	f.consecutiveFailures = 0
}

func (f *FailoverClient) chatBackup(ctx context.Context, messages []Message, tools []ToolDef, opts Options) (*Response, error) {
	f.mu.Lock()
	f.stats.FallbackRequests++
	f.mu.Unlock()

	resp, err := f.backup.Chat(ctx, messages, tools, opts)

	f.mu.Lock()
	defer f.mu.Unlock()
	if err != nil {
		f.stats.FallbackFailures++
		f.stats.LastError = err.Error()
		return nil, err
	}
	f.stats.FallbackSuccess++
	return resp, nil
}

func (f *FailoverClient) recordPrimarySuccess() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stats.PrimarySuccess++
	f.consecutiveFailures = 0
}

func (f *FailoverClient) recordPrimaryFailure(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stats.PrimaryFailures++
	f.stats.LastError = err.Error()
	f.consecutiveFailures++
	if f.strategy == StrategyAlwaysFallback && f.backup != nil &&
		f.consecutiveFailures >= f.circuitThreshold && !f.stats.UsingFallback {
		f.stats.UsingFallback = true
		f.logger.Warn("circuit open, routing to backup llm",
			"failures", f.consecutiveFailures, "backup", f.backup.Name())
	}
}
