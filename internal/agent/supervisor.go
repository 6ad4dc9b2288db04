// Package agent implements the supervisor loop: intent routing across
// fast/single/multi-step execution tiers, plan generation, tool
// orchestration, reflection, and confirmation handling.
package agent

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/haasonsaas/sidekick/internal/llm"
	"github.com/haasonsaas/sidekick/internal/memory"
	"github.com/haasonsaas/sidekick/internal/tools"
)

const (
	defaultMaxSteps      = 10
	defaultRetryAttempts = 3
	defaultRetryDelay    = time.Second

	toolTimeout = 30 * time.Second
	chatTimeout = 10 * time.Second
)

// MemoryContext renders a retrieved-memory block for prompt injection.
type MemoryContext interface {
	RenderBlock(ctx context.Context, query string) string
}

// History supplies the rolling dialogue buffer so each turn carries the
// earlier conversation, including any compression summary.
type History interface {
	Messages() []memory.BufferMessage
}

// NeedInput is a structured pause: the caller must obtain a user reply
// and re-enter via ContinueWithInput.
type NeedInput struct {
	Prompt  string
	Context map[string]any
}

// Chunk is one item of a turn's output stream: either text or a
// structured pause, never both.
type Chunk struct {
	Text      string
	NeedInput *NeedInput
}

type pendingCall struct {
	tool   string
	params map[string]any
}

// SupervisorConfig wires the supervisor's collaborators.
type SupervisorConfig struct {
	LLM        llm.Client
	Tools      *tools.Registry
	Memory     MemoryContext
	History    History
	Classifier IntentClassifier
	Builder    *ContextBuilder
	Metrics    *Metrics

	Personality   *Personality
	MaxSteps      int
	RetryAttempts int
	RetryDelay    time.Duration
	Logger        *slog.Logger
}

// Supervisor drives one user turn end to end: it never returns an error
// to the caller; every fault becomes user-visible text or a pause.
type Supervisor struct {
	llm         llm.Client
	tools       *tools.Registry
	memory      MemoryContext
	history     History
	classifier  IntentClassifier
	builder     *ContextBuilder
	metrics     *Metrics
	personality *Personality
	logger      *slog.Logger

	maxSteps      int
	retryAttempts int
	retryDelay    time.Duration

	mu         sync.Mutex
	pending    *pendingCall
	pausedPlan *Plan
}

// NewSupervisor creates a supervisor. LLM and Tools are required.
func NewSupervisor(cfg SupervisorConfig) (*Supervisor, error) {
	if cfg.LLM == nil {
		return nil, fmt.Errorf("llm client is required")
	}
	if cfg.Tools == nil {
		return nil, fmt.Errorf("tool registry is required")
	}
	if cfg.Builder == nil {
		cfg.Builder = NewContextBuilder()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = NewMetrics(nil)
	}
	if cfg.MaxSteps <= 0 {
		cfg.MaxSteps = defaultMaxSteps
	}
	if cfg.RetryAttempts <= 0 {
		cfg.RetryAttempts = defaultRetryAttempts
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = defaultRetryDelay
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Supervisor{
		llm:           cfg.LLM,
		tools:         cfg.Tools,
		memory:        cfg.Memory,
		history:       cfg.History,
		classifier:    cfg.Classifier,
		builder:       cfg.Builder,
		metrics:       cfg.Metrics,
		personality:   cfg.Personality,
		logger:        cfg.Logger.With("component", "supervisor"),
		maxSteps:      cfg.MaxSteps,
		retryAttempts: cfg.RetryAttempts,
		retryDelay:    cfg.RetryDelay,
	}, nil
}

// Metrics exposes the collector for reporting surfaces.
func (s *Supervisor) Metrics() *Metrics {
	return s.metrics
}

// emitter delivers chunks until the consumer's context ends.
type emitter struct {
	ctx context.Context
	out chan<- Chunk
}

func (e *emitter) send(c Chunk) bool {
	select {
	case <-e.ctx.Done():
		return false
	case e.out <- c:
		return true
	}
}

func (e *emitter) text(s string) bool {
	return e.send(Chunk{Text: s})
}

// Handle processes one user turn and streams the output. The channel is
// closed when the turn completes or the context is cancelled.
func (s *Supervisor) Handle(ctx context.Context, input, sessionID string) <-chan Chunk {
	out := make(chan Chunk)
	go func() {
		defer close(out)
		s.handle(ctx, &emitter{ctx: ctx, out: out}, input, sessionID)
	}()
	return out
}

func (s *Supervisor) handle(ctx context.Context, em *emitter, input, sessionID string) {
	// A pending confirmation consumes an affirmative or negative reply;
	// anything else clears the latch and begins a fresh turn.
	s.mu.Lock()
	pending := s.pending
	s.mu.Unlock()
	if pending != nil {
		switch {
		case isAffirmative(input):
			s.executeConfirmed(ctx, em, pending)
			return
		case isNegative(input):
			s.clearPending()
			em.text("已取消操作\n")
			return
		default:
			s.clearPending()
		}
	}

	mode := analyzeIntent(input)
	s.logger.Debug("execution mode selected", "mode", mode, "session", sessionID)

	if !em.text("🤔 ") {
		return
	}
	plan := s.plan(ctx, input, mode)
	// The planner may demote the mode; record the route actually taken,
	// once per turn.
	s.metrics.RecordMode(plan.Mode)
	if mode == ModeMultiStep {
		if !em.text(fmt.Sprintf("计划 %d 步\n", len(plan.Steps))) {
			return
		}
	}

	switch plan.Mode {
	case ModeFastPath:
		s.executeFastPath(ctx, em, input)
	case ModeSingleStep:
		s.executeSingleStep(ctx, em, input, plan)
	case ModeMultiStep:
		s.executeMultiStep(ctx, em, plan)
	}
}

func (s *Supervisor) clearPending() {
	s.mu.Lock()
	s.pending = nil
	s.mu.Unlock()
}

func (s *Supervisor) executeConfirmed(ctx context.Context, em *emitter, pending *pendingCall) {
	params := make(map[string]any, len(pending.params)+2)
	for k, v := range pending.params {
		params[k] = v
	}
	// Tools name their confirmation flag either way; validation drops
	// whichever one is undeclared.
	params["confirmed"] = true
	params["confirm"] = true
	if pending.tool == "delete_tasks" {
		if _, hasIDs := params["task_ids"]; !hasIDs {
			if _, hasAll := params["delete_all"]; !hasAll {
				params["delete_all"] = true
			}
		}
	}

	em.text("🤔 ")
	result := s.execute(ctx, pending.tool, params, toolTimeout)
	s.clearPending()

	if result.Success {
		em.text(result.Observation + "\n")
	} else {
		em.text(fmt.Sprintf("操作失败: %s\n", result.Observation))
	}
}

func (s *Supervisor) execute(ctx context.Context, tool string, params map[string]any, timeout time.Duration) *tools.Result {
	started := time.Now()
	result := s.tools.Execute(ctx, tool, params, timeout)
	s.metrics.RecordToolCall(tool, time.Since(started), result.Success)
	return result
}

func (s *Supervisor) executeFastPath(ctx context.Context, em *emitter, input string) {
	toolName := "chat"
	if s.classifier != nil {
		intent := s.classifier.Classify(input)
		if mapped, ok := intentToTool[intent]; ok {
			toolName = mapped
		}
		if !s.tools.Has(toolName) {
			s.logger.Warn("fast path tool missing, degrading to chat", "tool", toolName)
			toolName = "chat"
		}
	}

	// Greetings stream straight from the model; running the chat tool
	// here would just count a no-op tool call.
	if toolName == "chat" {
		s.streamChatResponse(ctx, em, input)
		return
	}

	result := s.execute(ctx, toolName, map[string]any{}, toolTimeout)
	em.text(result.Observation + "\n")
}

func (s *Supervisor) executeSingleStep(ctx context.Context, em *emitter, input string, plan *Plan) {
	step := plan.CurrentStep()
	if step == nil {
		em.text("没有可执行的步骤\n")
		return
	}

	step.Status = StepRunning
	result := s.execute(ctx, step.Tool, step.Params, toolTimeout)
	step.Result = result
	if result.Success {
		step.Status = StepCompleted
	} else {
		step.Status = StepFailed
	}

	if !result.Success {
		em.text(fmt.Sprintf("操作失败: %s\n", result.Observation))
		return
	}

	// Reflection fires at most once per turn.
	if retry := reflectTool(input, step.Tool); retry != "" {
		s.logger.Info("reflection rerouting step", "from", step.Tool, "to", retry)
		em.text(fmt.Sprintf("⚠️ 重新调整策略，使用 %s...\n", retry))
		redo := s.execute(ctx, retry, map[string]any{}, toolTimeout)
		if redo.Success {
			step.Tool = retry
			step.Result = redo
			result = redo
		}
	}

	if result.NeedsConfirmation() {
		s.mu.Lock()
		s.pending = &pendingCall{tool: step.Tool, params: step.Params}
		s.mu.Unlock()
		em.text(result.Observation + "\n")
		return
	}

	if step.Tool == "chat" {
		s.streamChatResponse(ctx, em, input)
		return
	}
	em.text(result.Observation + "\n")
}

func (s *Supervisor) executeMultiStep(ctx context.Context, em *emitter, plan *Plan) {
	for count := 0; !plan.IsComplete() && count < s.maxSteps; count++ {
		step := plan.CurrentStep()
		if step == nil {
			return
		}

		step.Status = StepRunning
		if !em.text(fmt.Sprintf("  [%d/%d] %s... ", plan.Current+1, len(plan.Steps), step.Tool)) {
			return
		}

		result := s.execute(ctx, step.Tool, step.Params, toolTimeout)
		step.Result = result

		if result.NeedsConfirmation() {
			step.Status = StepNeedsClarification
			s.mu.Lock()
			s.pausedPlan = plan
			s.mu.Unlock()
			em.text(fmt.Sprintf("\n💭 %s\n", result.Observation))
			em.send(Chunk{NeedInput: &NeedInput{
				Prompt: "确认执行吗？(yes/no/show)",
				Context: map[string]any{
					"step_id": step.ID,
					"data":    result.Data,
				},
			}})
			return
		}

		if result.Success {
			step.Status = StepCompleted
			em.text("✓\n")
			if result.Observation != "" {
				em.text(fmt.Sprintf("    %s\n", result.Observation))
			}
		} else {
			step.Status = StepFailed
			em.text("✗\n")
			em.text(fmt.Sprintf("    错误: %s\n", result.Observation))
			s.metrics.RecordError(fmt.Sprintf("%s: %s", step.Tool, result.Observation))
		}

		plan.Advance()
	}
}

// TakePausedPlan pops the plan latched by the last NeedInput pause, or
// nil when nothing is waiting. The caller resumes it with
// ContinueWithInput.
func (s *Supervisor) TakePausedPlan() *Plan {
	s.mu.Lock()
	defer s.mu.Unlock()
	plan := s.pausedPlan
	s.pausedPlan = nil
	return plan
}

// ContinueWithInput resumes a multi-step plan paused on a NeedInput
// chunk with the user's reply.
func (s *Supervisor) ContinueWithInput(ctx context.Context, reply string, plan *Plan) <-chan Chunk {
	out := make(chan Chunk)
	go func() {
		defer close(out)
		s.continueWithInput(ctx, &emitter{ctx: ctx, out: out}, reply, plan)
	}()
	return out
}

func (s *Supervisor) continueWithInput(ctx context.Context, em *emitter, reply string, plan *Plan) {
	var step *Step
	if plan != nil {
		step = plan.CurrentStep()
	}
	if step == nil {
		em.text("没有待执行的步骤\n")
		return
	}

	switch {
	case isAffirmative(reply):
		step.Params["confirmed"] = true
		result := s.execute(ctx, step.Tool, step.Params, toolTimeout)
		step.Result = result
		if result.Success {
			step.Status = StepCompleted
			em.text(fmt.Sprintf("✅ %s\n", result.Observation))
			plan.Advance()
			if !plan.IsComplete() {
				s.executeMultiStep(ctx, em, plan)
			}
		} else {
			step.Status = StepFailed
			em.text(fmt.Sprintf("❌ %s\n", result.Observation))
		}
	case isNegative(reply):
		em.text("已取消操作\n")
		step.Status = StepCancelled
		plan.Advance()
		if !plan.IsComplete() {
			s.executeMultiStep(ctx, em, plan)
		}
	default:
		em.text("请输入 yes 确认或 no 取消\n")
	}
}

// buildMessages assembles the system prompt (identity, tool catalog,
// retrieved memory, rules), the dialogue history, and the user turn.
func (s *Supervisor) buildMessages(ctx context.Context, input string) []llm.Message {
	memoryBlock := ""
	if s.memory != nil {
		memoryBlock = s.memory.RenderBlock(ctx, input)
	}
	system := s.builder.Build(BuildInput{
		Personality: s.personality,
		Tools:       s.tools.List(),
		MemoryBlock: memoryBlock,
	})
	system = fmt.Sprintf("【当前时间】%s\n\n%s", time.Now().Format("2006-01-02 15:04:05"), system)

	messages := []llm.Message{{Role: llm.RoleSystem, Content: system}}
	if s.history != nil {
		for _, m := range s.history.Messages() {
			switch m.Role {
			case "user":
				messages = append(messages, llm.Message{Role: llm.RoleUser, Content: m.Content})
			case "assistant":
				messages = append(messages, llm.Message{Role: llm.RoleAssistant, Content: m.Content})
			case "system":
				// Compression summaries arrive as system entries.
				messages = append(messages, llm.Message{Role: llm.RoleSystem, Content: m.Content})
			}
		}
	}
	return append(messages, llm.Message{Role: llm.RoleUser, Content: input})
}

func (s *Supervisor) streamChatResponse(ctx context.Context, em *emitter, input string) {
	messages := s.buildMessages(ctx, input)
	started := time.Now()
	stream, err := s.llm.Stream(ctx, messages, llm.Options{Temperature: 0.7, MaxTokens: 800})
	if err != nil {
		s.logger.Warn("streaming failed, falling back to batch", "error", err)
		resp, chatErr := s.llm.Chat(ctx, messages, nil, llm.Options{Temperature: 0.7, MaxTokens: 800})
		s.metrics.RecordLLMCall(time.Since(started))
		if chatErr != nil {
			s.metrics.RecordError(fmt.Sprintf("chat: %v", chatErr))
			em.text("抱歉，我现在无法回复。\n")
			return
		}
		em.text(resp.Content + "\n")
		return
	}
	for chunk := range stream {
		if !em.text(chunk) {
			return
		}
	}
	s.metrics.RecordLLMCall(time.Since(started))
	em.text("\n")
}
