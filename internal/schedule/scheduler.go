package schedule

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"
)

const maxBriefingBytes = 4 << 20

// TaskFunc is a cron job body.
type TaskFunc func(ctx context.Context) error

// Briefing is a snapshot fetched by a heartbeat probe.
type Briefing map[string]any

// BriefingFunc produces a briefing for a heartbeat check.
type BriefingFunc func(ctx context.Context) (Briefing, error)

// AnomalyDetector decides whether a briefing warrants the handler.
type AnomalyDetector func(briefing Briefing) bool

// HandlerFunc reacts to an anomalous briefing.
type HandlerFunc func(ctx context.Context, briefing Briefing) error

// EventCondition gates an event handler.
type EventCondition func(data map[string]any) bool

// EventAction runs when an event fires and its condition holds.
type EventAction func(data map[string]any) error

type cronJob struct {
	name string
	spec Spec
	task TaskFunc
}

type heartbeatJob struct {
	name     string
	source   BriefingFunc
	interval time.Duration
	detect   AnomalyDetector
	handler  HandlerFunc
}

type eventHandler struct {
	condition EventCondition
	action    EventAction
}

// Scheduler combines cron jobs, heartbeat monitors, and event handlers.
//
// Cron jobs run on their schedule in their own goroutine. Heartbeat monitors
// poll a briefing source on an interval and invoke their handler only when
// the anomaly detector fires. Events dispatch synchronously to handlers in
// registration order.
type Scheduler struct {
	logger     *slog.Logger
	httpClient *http.Client
	now        func() time.Time
	errBackoff time.Duration

	mu            sync.Mutex
	cronJobs      []*cronJob
	heartbeats    []*heartbeatJob
	eventHandlers map[string][]*eventHandler
	started       bool
	cancel        context.CancelFunc
	wg            sync.WaitGroup
}

// Option configures the scheduler.
type Option func(*Scheduler)

// WithLogger configures the scheduler logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Scheduler) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithHTTPClient configures the client used for HTTP briefing endpoints.
func WithHTTPClient(client *http.Client) Option {
	return func(s *Scheduler) {
		if client != nil {
			s.httpClient = client
		}
	}
}

// WithNow overrides the clock for tests.
func WithNow(now func() time.Time) Option {
	return func(s *Scheduler) {
		if now != nil {
			s.now = now
		}
	}
}

// WithErrorBackoff overrides the delay after a failed cron run.
func WithErrorBackoff(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.errBackoff = d
		}
	}
}

// NewScheduler creates an empty scheduler.
func NewScheduler(opts ...Option) *Scheduler {
	s := &Scheduler{
		logger:        slog.Default().With("component", "schedule"),
		httpClient:    &http.Client{Timeout: 30 * time.Second},
		now:           time.Now,
		errBackoff:    time.Minute,
		eventHandlers: make(map[string][]*eventHandler),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ScheduleCron registers a cron job by expression.
func (s *Scheduler) ScheduleCron(name, expr string, task TaskFunc) error {
	if task == nil {
		return fmt.Errorf("task is required")
	}
	spec, err := ParseCron(expr)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return fmt.Errorf("scheduler already started")
	}
	s.cronJobs = append(s.cronJobs, &cronJob{name: name, spec: spec, task: task})
	s.logger.Info("cron job registered", "name", name, "expr", spec.Expr)
	return nil
}

// ScheduleDaily registers a cron job that runs once a day.
func (s *Scheduler) ScheduleDaily(name string, hour, minute int, task TaskFunc) error {
	spec, err := Daily(hour, minute)
	if err != nil {
		return err
	}
	return s.ScheduleCron(name, spec.Expr, task)
}

// ScheduleHourly registers a cron job that runs every hour.
func (s *Scheduler) ScheduleHourly(name string, minute int, task TaskFunc) error {
	spec, err := Hourly(minute)
	if err != nil {
		return err
	}
	return s.ScheduleCron(name, spec.Expr, task)
}

// RegisterHeartbeat registers an interval monitor over a briefing source.
// A nil detector falls back to DefaultAnomalyDetector.
func (s *Scheduler) RegisterHeartbeat(name string, source BriefingFunc, interval time.Duration, handler HandlerFunc, detector AnomalyDetector) error {
	if source == nil {
		return fmt.Errorf("briefing source is required")
	}
	if handler == nil {
		return fmt.Errorf("handler is required")
	}
	if interval <= 0 {
		return fmt.Errorf("interval must be positive")
	}
	if detector == nil {
		detector = DefaultAnomalyDetector
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return fmt.Errorf("scheduler already started")
	}
	s.heartbeats = append(s.heartbeats, &heartbeatJob{
		name:     name,
		source:   source,
		interval: interval,
		detect:   detector,
		handler:  handler,
	})
	s.logger.Info("heartbeat registered", "name", name, "interval", interval)
	return nil
}

// On registers an event handler. A nil condition always matches.
func (s *Scheduler) On(eventType string, condition EventCondition, action EventAction) error {
	if action == nil {
		return fmt.Errorf("action is required")
	}
	if condition == nil {
		condition = func(map[string]any) bool { return true }
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.eventHandlers[eventType] = append(s.eventHandlers[eventType], &eventHandler{
		condition: condition,
		action:    action,
	})
	s.logger.Info("event handler registered", "event", eventType)
	return nil
}

// Emit dispatches an event synchronously to its handlers in registration
// order and returns how many actions ran. A failing handler is logged and
// does not stop the rest.
func (s *Scheduler) Emit(eventType string, data map[string]any) int {
	s.mu.Lock()
	handlers := make([]*eventHandler, len(s.eventHandlers[eventType]))
	copy(handlers, s.eventHandlers[eventType])
	s.mu.Unlock()

	triggered := 0
	for _, h := range handlers {
		if !h.condition(data) {
			continue
		}
		if err := h.action(data); err != nil {
			s.logger.Error("event handler failed", "event", eventType, "error", err)
			continue
		}
		triggered++
	}
	if triggered > 0 {
		s.logger.Debug("event dispatched", "event", eventType, "triggered", triggered)
	}
	return triggered
}

// Start launches one goroutine per cron job and heartbeat monitor.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return fmt.Errorf("scheduler already started")
	}
	s.started = true
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	cronJobs := s.cronJobs
	heartbeats := s.heartbeats
	s.mu.Unlock()

	for _, job := range cronJobs {
		s.wg.Add(1)
		go func(job *cronJob) {
			defer s.wg.Done()
			s.runCron(runCtx, job)
		}(job)
	}
	for _, hb := range heartbeats {
		s.wg.Add(1)
		go func(hb *heartbeatJob) {
			defer s.wg.Done()
			s.runHeartbeat(runCtx, hb)
		}(hb)
	}
	s.logger.Info("scheduler started", "cron_jobs", len(cronJobs), "heartbeats", len(heartbeats))
	return nil
}

// Stop cancels all trigger goroutines and waits for them to exit.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return nil
	}
	s.started = false
	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		s.logger.Info("scheduler stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Status reports the scheduler's registered triggers.
func (s *Scheduler) Status() map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()

	cronNames := make([]string, 0, len(s.cronJobs))
	for _, job := range s.cronJobs {
		cronNames = append(cronNames, job.name)
	}
	hbNames := make([]string, 0, len(s.heartbeats))
	for _, hb := range s.heartbeats {
		hbNames = append(hbNames, hb.name)
	}
	eventTypes := make([]string, 0, len(s.eventHandlers))
	for eventType := range s.eventHandlers {
		eventTypes = append(eventTypes, eventType)
	}
	return map[string]any{
		"running":        s.started,
		"cron_jobs":      cronNames,
		"heartbeat_jobs": hbNames,
		"event_types":    eventTypes,
	}
}

func (s *Scheduler) runCron(ctx context.Context, job *cronJob) {
	for {
		next := job.spec.Next(s.now())
		wait := next.Sub(s.now())
		if wait < 0 {
			wait = 0
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		s.logger.Debug("cron job firing", "name", job.name)
		if err := job.task(ctx); err != nil {
			s.logger.Error("cron job failed", "name", job.name, "error", err)
			backoff := time.NewTimer(s.errBackoff)
			select {
			case <-ctx.Done():
				backoff.Stop()
				return
			case <-backoff.C:
			}
		}
	}
}

func (s *Scheduler) runHeartbeat(ctx context.Context, hb *heartbeatJob) {
	ticker := time.NewTicker(hb.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		briefing, err := hb.source(ctx)
		if err != nil {
			s.logger.Error("heartbeat briefing failed", "name", hb.name, "error", err)
			continue
		}
		if !hb.detect(briefing) {
			continue
		}
		s.logger.Warn("heartbeat anomaly detected", "name", hb.name)
		if err := hb.handler(ctx, briefing); err != nil {
			s.logger.Error("heartbeat handler failed", "name", hb.name, "error", err)
		}
	}
}

// DefaultAnomalyDetector flags a briefing when price_change exceeds 15% or
// error_count exceeds 10.
func DefaultAnomalyDetector(briefing Briefing) bool {
	if numberValue(briefing["price_change"]) > 0.15 {
		return true
	}
	if numberValue(briefing["error_count"]) > 10 {
		return true
	}
	return false
}

// HTTPBriefing returns a briefing source that GETs a JSON endpoint.
func HTTPBriefing(client *http.Client, url string) BriefingFunc {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return func(ctx context.Context) (Briefing, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, fmt.Errorf("build briefing request: %w", err)
		}
		req.Header.Set("Accept", "application/json")
		resp, err := client.Do(req)
		if err != nil {
			return nil, fmt.Errorf("fetch briefing: %w", err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("briefing endpoint returned %d", resp.StatusCode)
		}
		body, err := io.ReadAll(io.LimitReader(resp.Body, maxBriefingBytes))
		if err != nil {
			return nil, fmt.Errorf("read briefing: %w", err)
		}
		var briefing Briefing
		if err := json.Unmarshal(body, &briefing); err != nil {
			return nil, fmt.Errorf("decode briefing: %w", err)
		}
		return briefing, nil
	}
}

func numberValue(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case float32:
		return float64(n)
	case int:
		return float64(n)
	case int64:
		return float64(n)
	case json.Number:
		f, err := n.Float64()
		if err != nil {
			return 0
		}
		return f
	default:
		return 0
	}
}
