package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/haasonsaas/sidekick/internal/llm"
	"github.com/haasonsaas/sidekick/internal/tools"
)

// StepStatus tracks a step through its lifecycle.
type StepStatus string

const (
	StepPending            StepStatus = "pending"
	StepRunning            StepStatus = "running"
	StepCompleted          StepStatus = "completed"
	StepFailed             StepStatus = "failed"
	StepNeedsClarification StepStatus = "needs_clarification"
	StepCancelled          StepStatus = "cancelled"
)

// Step is one planned tool invocation.
type Step struct {
	ID     string
	Tool   string
	Params map[string]any
	Reason string
	Status StepStatus
	Result *tools.Result
}

// Plan is the execution plan for one user turn.
type Plan struct {
	Mode    Mode
	Goal    string
	Steps   []*Step
	Current int
}

// IsComplete reports whether every step has been visited.
func (p *Plan) IsComplete() bool {
	return p.Current >= len(p.Steps)
}

// CurrentStep returns the step under execution, or nil.
func (p *Plan) CurrentStep() *Step {
	if p.Current >= 0 && p.Current < len(p.Steps) {
		return p.Steps[p.Current]
	}
	return nil
}

// Advance moves to the next step and returns it, or nil at the end.
func (p *Plan) Advance() *Step {
	p.Current++
	return p.CurrentStep()
}

func chatStep(input string) *Step {
	return &Step{
		ID:     "step_0",
		Tool:   "chat",
		Params: map[string]any{"message": input},
		Status: StepPending,
	}
}

func (s *Supervisor) plan(ctx context.Context, input string, mode Mode) *Plan {
	switch mode {
	case ModeFastPath:
		return &Plan{Mode: mode, Goal: input}
	case ModeSingleStep:
		return s.planSingleStepWithRetry(ctx, input)
	case ModeMultiStep:
		return s.planMultiStepWithRetry(ctx, input)
	}
	return &Plan{Mode: mode, Goal: input}
}

func (s *Supervisor) planSingleStepWithRetry(ctx context.Context, input string) *Plan {
	for attempt := 0; attempt < s.retryAttempts; attempt++ {
		plan, err := s.planSingleStep(ctx, input)
		if err == nil {
			return plan
		}
		s.logger.Warn("single-step planning attempt failed", "attempt", attempt+1, "error", err)
		if attempt < s.retryAttempts-1 {
			if !sleepCtx(ctx, s.retryDelay*time.Duration(attempt+1)) {
				break
			}
		}
	}
	// Exhausted: degrade to a direct conversation.
	return &Plan{
		Mode:  ModeSingleStep,
		Goal:  input,
		Steps: []*Step{chatStep(input)},
	}
}

// toolSelectionRules is appended to the system prompt during single-step
// planning to pin keyword families to the right tool.
const toolSelectionRules = `

【强制性工具选择规则】
你必须根据用户输入的关键词选择正确的工具：
1. 关键词包含"清理"、"删除"、"移除"、"清空" → 必须使用 delete_tasks
2. 关键词包含"查看"、"显示"、"有什么"、"列出" → 使用 list_tasks
3. 关键词包含"完成"、"做完了" → 使用 complete_task
4. 关键词包含"创建"、"添加"、"提醒我" → 使用 create_task

【Few-shot 示例】
输入: "帮我清理这些任务" → 工具: delete_tasks
输入: "删除无效的任务" → 工具: delete_tasks
输入: "我有什么任务" → 工具: list_tasks
输入: "查看待办列表" → 工具: list_tasks
输入: "完成任务 xxx" → 工具: complete_task
输入: "提醒我明天开会" → 工具: create_task`

func (s *Supervisor) planSingleStep(ctx context.Context, input string) (*Plan, error) {
	messages := s.buildMessages(ctx, input)
	if len(messages) > 0 && messages[0].Role == llm.RoleSystem {
		messages[0].Content += toolSelectionRules
	}

	started := time.Now()
	resp, err := s.llm.Chat(ctx, messages, s.toolDefs(), llm.Options{})
	s.metrics.RecordLLMCall(time.Since(started))
	if err != nil {
		return nil, fmt.Errorf("single-step planning: %w", err)
	}

	if len(resp.ToolCalls) > 0 {
		call := resp.ToolCalls[0]
		params := call.Arguments
		if params == nil {
			params = make(map[string]any)
		}
		return &Plan{
			Mode: ModeSingleStep,
			Goal: input,
			Steps: []*Step{{
				ID:     "step_0",
				Tool:   call.Name,
				Params: params,
				Status: StepPending,
			}},
		}, nil
	}
	// The model chose not to call a tool; answer conversationally.
	return &Plan{
		Mode:  ModeSingleStep,
		Goal:  input,
		Steps: []*Step{chatStep(input)},
	}, nil
}

func (s *Supervisor) planMultiStepWithRetry(ctx context.Context, input string) *Plan {
	for attempt := 0; attempt < s.retryAttempts; attempt++ {
		plan, err := s.planMultiStep(ctx, input)
		if err == nil {
			return plan
		}
		s.logger.Warn("multi-step planning attempt failed", "attempt", attempt+1, "error", err)
		if attempt < s.retryAttempts-1 {
			if !sleepCtx(ctx, s.retryDelay*time.Duration(attempt+1)) {
				break
			}
		}
	}
	// Demote to single-step planning.
	return s.planSingleStepWithRetry(ctx, input)
}

var jsonObjectPattern = regexp.MustCompile(`\{[\s\S]*\}`)

type planPayload struct {
	Goal  string `json:"goal"`
	Steps []struct {
		Tool   string         `json:"tool"`
		Params map[string]any `json:"params"`
		Reason string         `json:"reason"`
	} `json:"steps"`
}

func (s *Supervisor) planMultiStep(ctx context.Context, input string) (*Plan, error) {
	prompt := s.buildPlanningPrompt(ctx, input)

	started := time.Now()
	resp, err := s.llm.Chat(ctx, []llm.Message{{Role: llm.RoleUser, Content: prompt}}, nil, llm.Options{
		Temperature: 0.1,
	})
	s.metrics.RecordLLMCall(time.Since(started))
	if err != nil {
		return nil, fmt.Errorf("multi-step planning: %w", err)
	}

	text := strings.TrimSpace(resp.Content)
	if text == "" {
		return nil, fmt.Errorf("multi-step planning: empty response")
	}

	var payload planPayload
	if err := json.Unmarshal([]byte(text), &payload); err != nil {
		// Tolerate prose around the JSON object.
		match := jsonObjectPattern.FindString(text)
		if match == "" {
			return nil, fmt.Errorf("multi-step planning: no JSON in response")
		}
		if err := json.Unmarshal([]byte(match), &payload); err != nil {
			return nil, fmt.Errorf("multi-step planning: parse plan: %w", err)
		}
	}

	goal := payload.Goal
	if goal == "" {
		goal = input
	}
	steps := make([]*Step, 0, len(payload.Steps))
	for i, raw := range payload.Steps {
		params := raw.Params
		if params == nil {
			params = make(map[string]any)
		}
		steps = append(steps, &Step{
			ID:     fmt.Sprintf("step_%d", i),
			Tool:   raw.Tool,
			Params: params,
			Reason: raw.Reason,
			Status: StepPending,
		})
	}
	return &Plan{Mode: ModeMultiStep, Goal: goal, Steps: steps}, nil
}

func (s *Supervisor) buildPlanningPrompt(ctx context.Context, input string) string {
	memoryBlock := ""
	if s.memory != nil {
		if block := s.memory.RenderBlock(ctx, input); block != "" {
			memoryBlock = "\n" + block
		}
	}

	return fmt.Sprintf(`【当前时间】%s

【任务分析】
分析用户需求，选择正确的工具执行任务。

【用户输入】
%s%s

【可用工具】
%s

【工具选择规则】（非常重要！）
1. "清理任务"、"删除任务"、"清空列表" → 必须使用 delete_tasks
2. "查看任务"、"有什么任务"、"显示列表" → 使用 list_tasks
3. "完成任务"、"做完了" → 使用 complete_task
4. "创建任务"、"提醒我" → 使用 create_task

【正确示例】
示例1:
输入: "帮我清理这些任务"
输出: {"goal": "清理用户的任务列表", "steps": [{"tool": "delete_tasks", "params": {"delete_all": true, "confirmed": false}, "reason": "用户说清理任务，需要执行删除操作"}]}

示例2:
输入: "我有什么待办事项"
输出: {"goal": "查看任务列表", "steps": [{"tool": "list_tasks", "params": {}, "reason": "用户只是想查看，不是删除"}]}

现在请分析用户输入并生成执行计划，返回 JSON 格式：
{
    "goal": "任务目标",
    "steps": [
        {"tool": "工具名", "params": {"参数名": "值"}, "reason": "选择此工具的理由"}
    ]
}`, time.Now().Format("2006-01-02 15:04:05"), input, memoryBlock, s.formatToolCatalog())
}

func (s *Supervisor) formatToolCatalog() string {
	var lines []string
	for _, t := range s.tools.List() {
		desc := t.Description()
		if i := strings.IndexByte(desc, '\n'); i >= 0 {
			desc = desc[:i]
		}
		lines = append(lines, fmt.Sprintf("- %s: %s", t.Name(), desc))
	}
	return strings.Join(lines, "\n")
}

// toolDefs converts the registry's function-calling schemas into the
// adapter's tool definitions.
func (s *Supervisor) toolDefs() []llm.ToolDef {
	list := s.tools.List()
	defs := make([]llm.ToolDef, 0, len(list))
	for _, t := range list {
		var decoded struct {
			Name        string         `json:"name"`
			Description string         `json:"description"`
			Parameters  map[string]any `json:"parameters"`
		}
		if err := json.Unmarshal(tools.Schema(t), &decoded); err != nil {
			s.logger.Warn("tool schema decode failed", "tool", t.Name(), "error", err)
			continue
		}
		defs = append(defs, llm.ToolDef{
			Name:        decoded.Name,
			Description: decoded.Description,
			Parameters:  decoded.Parameters,
		})
	}
	return defs
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
