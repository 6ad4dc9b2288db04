package agent

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const maxRecordedErrors = 100

type toolCounts struct {
	Success int `json:"success"`
	Failed  int `json:"failed"`
}

// ErrorRecord is one timestamped failure seen by the agent loop.
type ErrorRecord struct {
	Time  time.Time `json:"time"`
	Error string    `json:"error"`
}

// Metrics collects agent-loop statistics in memory and mirrors them to
// Prometheus.
type Metrics struct {
	mu          sync.Mutex
	llmCalls    int
	llmLatency  []time.Duration
	toolCalls   map[string]*toolCounts
	toolLatency map[string][]time.Duration
	modeUsage   map[Mode]int
	errors      []ErrorRecord

	llmCounter   prometheus.Counter
	llmDuration  prometheus.Histogram
	toolCounter  *prometheus.CounterVec
	toolDuration *prometheus.HistogramVec
	modeCounter  *prometheus.CounterVec
	errorCounter prometheus.Counter
}

// NewMetrics creates a collector and registers its Prometheus mirrors
// with reg. A nil reg uses the default registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		toolCalls:   make(map[string]*toolCounts),
		toolLatency: make(map[string][]time.Duration),
		modeUsage: map[Mode]int{
			ModeFastPath:   0,
			ModeSingleStep: 0,
			ModeMultiStep:  0,
		},
		llmCounter: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sidekick_llm_calls_total",
			Help: "Total number of LLM calls made by the agent loop",
		}),
		llmDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "sidekick_llm_call_duration_seconds",
			Help:    "Duration of LLM calls in seconds",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		}),
		toolCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sidekick_tool_executions_total",
			Help: "Total number of tool executions by tool name and status",
		}, []string{"tool_name", "status"}),
		toolDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "sidekick_tool_execution_duration_seconds",
			Help:    "Duration of tool executions in seconds",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30},
		}, []string{"tool_name"}),
		modeCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sidekick_execution_mode_total",
			Help: "Total number of turns by execution mode",
		}, []string{"mode"}),
		errorCounter: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sidekick_agent_errors_total",
			Help: "Total number of errors recorded by the agent loop",
		}),
	}
	reg.MustRegister(m.llmCounter, m.llmDuration, m.toolCounter, m.toolDuration, m.modeCounter, m.errorCounter)
	return m
}

// RecordLLMCall records one LLM round trip.
func (m *Metrics) RecordLLMCall(d time.Duration) {
	m.mu.Lock()
	m.llmCalls++
	m.llmLatency = append(m.llmLatency, d)
	m.mu.Unlock()

	m.llmCounter.Inc()
	m.llmDuration.Observe(d.Seconds())
}

// RecordToolCall records one tool execution.
func (m *Metrics) RecordToolCall(name string, d time.Duration, success bool) {
	m.mu.Lock()
	counts, ok := m.toolCalls[name]
	if !ok {
		counts = &toolCounts{}
		m.toolCalls[name] = counts
	}
	if success {
		counts.Success++
	} else {
		counts.Failed++
	}
	m.toolLatency[name] = append(m.toolLatency[name], d)
	m.mu.Unlock()

	status := "success"
	if !success {
		status = "error"
	}
	m.toolCounter.WithLabelValues(name, status).Inc()
	m.toolDuration.WithLabelValues(name).Observe(d.Seconds())
}

// RecordMode records which execution mode handled a turn.
func (m *Metrics) RecordMode(mode Mode) {
	m.mu.Lock()
	m.modeUsage[mode]++
	m.mu.Unlock()

	m.modeCounter.WithLabelValues(string(mode)).Inc()
}

// RecordError records an error message, keeping the most recent entries.
func (m *Metrics) RecordError(msg string) {
	m.mu.Lock()
	m.errors = append(m.errors, ErrorRecord{Time: time.Now(), Error: msg})
	if len(m.errors) > maxRecordedErrors {
		m.errors = m.errors[len(m.errors)-maxRecordedErrors:]
	}
	m.mu.Unlock()

	m.errorCounter.Inc()
}

// Errors returns a copy of the recent error records.
func (m *Metrics) Errors() []ErrorRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]ErrorRecord, len(m.errors))
	copy(out, m.errors)
	return out
}

// Summary derives aggregate statistics from the collected samples.
func (m *Metrics) Summary() map[string]any {
	m.mu.Lock()
	defer m.mu.Unlock()

	var llmAvg float64
	if len(m.llmLatency) > 0 {
		var total time.Duration
		for _, d := range m.llmLatency {
			total += d
		}
		llmAvg = total.Seconds() / float64(len(m.llmLatency))
	}

	toolUsage := make(map[string]toolCounts, len(m.toolCalls))
	for name, counts := range m.toolCalls {
		toolUsage[name] = *counts
	}

	toolAvg := make(map[string]float64)
	for name, latencies := range m.toolLatency {
		if len(latencies) == 0 {
			continue
		}
		var total time.Duration
		for _, d := range latencies {
			total += d
		}
		toolAvg[name] = total.Seconds() / float64(len(latencies))
	}

	modes := make(map[string]int, len(m.modeUsage))
	for mode, count := range m.modeUsage {
		modes[string(mode)] = count
	}

	return map[string]any{
		"llm_calls":         m.llmCalls,
		"llm_avg_latency":   llmAvg,
		"tool_usage":        toolUsage,
		"tool_avg_latency":  toolAvg,
		"mode_distribution": modes,
		"error_count":       len(m.errors),
	}
}
