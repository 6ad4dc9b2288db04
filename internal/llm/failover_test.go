package llm

import (
	"context"
	"errors"
	"testing"
)

// stubClient scripts Chat results for failover tests.
type stubClient struct {
	name  string
	resp  *Response
	err   error
	calls int
}

func (s *stubClient) Name() string { return s.name }

func (s *stubClient) Chat(ctx context.Context, messages []Message, tools []ToolDef, opts Options) (*Response, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return s.resp, nil
}

func (s *stubClient) Stream(ctx context.Context, messages []Message, opts Options) (<-chan string, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	ch := make(chan string)
	close(ch)
	return ch, nil
}

func TestFailoverPrimarySuccess(t *testing.T) {
	primary := &stubClient{name: "p", resp: &Response{Content: "hi"}}
	backup := &stubClient{name: "b", resp: &Response{Content: "backup"}}
	f := NewFailoverClient(primary, backup, FailoverConfig{Strategy: StrategyFallbackOnce})

	resp, err := f.Chat(context.Background(), nil, nil, Options{})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if resp.Content != "hi" {
		t.Errorf("content = %q", resp.Content)
	}
	if backup.calls != 0 {
		t.Errorf("backup should not be called, got %d", backup.calls)
	}

	stats := f.Stats()
	if stats.TotalRequests != 1 || stats.PrimarySuccess != 1 {
		t.Errorf("stats = %+v", stats)
	}
}

func TestFailoverFailFast(t *testing.T) {
	primary := &stubClient{name: "p", err: errors.New("down")}
	backup := &stubClient{name: "b", resp: &Response{Content: "backup"}}
	f := NewFailoverClient(primary, backup, FailoverConfig{Strategy: StrategyFailFast})

	if _, err := f.Chat(context.Background(), nil, nil, Options{}); err == nil {
		t.Fatal("expected error")
	}
	if backup.calls != 0 {
		t.Errorf("backup should not be called under fail_fast, got %d", backup.calls)
	}
	stats := f.Stats()
	if stats.PrimaryFailures != 1 || stats.LastError != "down" {
		t.Errorf("stats = %+v", stats)
	}
}

func TestFailoverFallbackOnce(t *testing.T) {
	primary := &stubClient{name: "p", err: errors.New("down")}
	backup := &stubClient{name: "b", resp: &Response{Content: "backup"}}
	f := NewFailoverClient(primary, backup, FailoverConfig{Strategy: StrategyFallbackOnce})

	resp, err := f.Chat(context.Background(), nil, nil, Options{})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if resp.Content != "backup" {
		t.Errorf("content = %q", resp.Content)
	}

	// The next call goes back to the primary.
	f.Chat(context.Background(), nil, nil, Options{})
	if primary.calls != 2 {
		t.Errorf("primary calls = %d, want 2", primary.calls)
	}

	stats := f.Stats()
	if stats.UsingFallback {
		t.Error("fallback_once must not latch")
	}
	if stats.FallbackRequests != 2 || stats.FallbackSuccess != 2 {
		t.Errorf("stats = %+v", stats)
	}
}

func TestFailoverAlwaysFallbackLatches(t *testing.T) {
	primary := &stubClient{name: "p", err: errors.New("down")}
	backup := &stubClient{name: "b", resp: &Response{Content: "backup"}}
	f := NewFailoverClient(primary, backup, FailoverConfig{
		Strategy:         StrategyAlwaysFallback,
		CircuitThreshold: 2,
	})

	f.Chat(context.Background(), nil, nil, Options{})
	f.Chat(context.Background(), nil, nil, Options{})

	stats := f.Stats()
	if !stats.UsingFallback {
		t.Fatal("circuit should be open after threshold failures")
	}

	// Latched: primary is no longer tried.
	primaryCalls := primary.calls
	f.Chat(context.Background(), nil, nil, Options{})
	if primary.calls != primaryCalls {
		t.Errorf("primary called while latched: %d -> %d", primaryCalls, primary.calls)
	}

	f.Reset()
	if f.Stats().UsingFallback {
		t.Error("Reset should close the circuit")
	}
	f.Chat(context.Background(), nil, nil, Options{})
	if primary.calls != primaryCalls+1 {
		t.Error("primary should be tried again after Reset")
	}
}

func TestFailoverBackupFailureReported(t *testing.T) {
	primary := &stubClient{name: "p", err: errors.New("primary down")}
	backup := &stubClient{name: "b", err: errors.New("backup down")}
	f := NewFailoverClient(primary, backup, FailoverConfig{Strategy: StrategyFallbackOnce})

	if _, err := f.Chat(context.Background(), nil, nil, Options{}); err == nil {
		t.Fatal("expected error when both sides fail")
	}
	stats := f.Stats()
	if stats.FallbackFailures != 1 || stats.LastError != "backup down" {
		t.Errorf("stats = %+v", stats)
	}
}

func TestFailoverNilBackup(t *testing.T) {
	primary := &stubClient{name: "p", err: errors.New("down")}
	f := NewFailoverClient(primary, nil, FailoverConfig{Strategy: StrategyAlwaysFallback})

	if _, err := f.Chat(context.Background(), nil, nil, Options{}); err == nil {
		t.Fatal("expected error without backup")
	}
	if f.Name() != "p" {
		t.Errorf("Name = %q", f.Name())
	}
}
