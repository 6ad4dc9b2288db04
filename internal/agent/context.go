package agent

import (
	"fmt"
	"strings"

	"github.com/haasonsaas/sidekick/internal/tools"
)

// Personality shapes the identity block of the system prompt.
type Personality struct {
	Name        string   `yaml:"name"`
	Description string   `yaml:"description"`
	Traits      []string `yaml:"traits"`
}

// BuildInput carries everything the builder needs for one prompt.
type BuildInput struct {
	Personality *Personality
	Tools       []tools.Tool
	MemoryBlock string
}

// ContextBuilder assembles the system prompt from modular sections:
// identity, tool catalog, retrieved memory, and usage rules.
type ContextBuilder struct{}

// NewContextBuilder creates a context builder.
func NewContextBuilder() *ContextBuilder {
	return &ContextBuilder{}
}

// Build renders the full system prompt.
func (b *ContextBuilder) Build(in BuildInput) string {
	parts := []string{b.identitySection(in.Personality)}
	if section := b.toolsSection(in.Tools); section != "" {
		parts = append(parts, section)
	}
	if in.MemoryBlock != "" {
		parts = append(parts, in.MemoryBlock)
	}
	parts = append(parts, rulesSection)
	return strings.Join(parts, "\n\n")
}

func (b *ContextBuilder) identitySection(p *Personality) string {
	if p == nil || p.Name == "" {
		return "## 身份\n\n你是一个友好的个人 AI 助手，可以帮助用户管理任务、记忆和日常事务。"
	}
	traits := p.Traits
	if len(traits) > 5 {
		traits = traits[:5]
	}
	out := fmt.Sprintf("## 身份\n\n你是%s，%s", p.Name, p.Description)
	if len(traits) > 0 {
		out += fmt.Sprintf("\n\n性格特点：%s", strings.Join(traits, "、"))
	}
	return out
}

func (b *ContextBuilder) toolsSection(list []tools.Tool) string {
	if len(list) == 0 {
		return ""
	}

	var taskTools, memoryTools, otherTools []tools.Tool
	for _, t := range list {
		name := strings.ToLower(t.Name())
		switch {
		case strings.Contains(name, "task"):
			taskTools = append(taskTools, t)
		case strings.Contains(name, "memor"):
			memoryTools = append(memoryTools, t)
		default:
			otherTools = append(otherTools, t)
		}
	}

	var sb strings.Builder
	sb.WriteString("## 可用工具\n\n你可以使用以下工具帮助用户：\n")
	writeGroup := func(title string, group []tools.Tool) {
		if len(group) == 0 {
			return
		}
		sb.WriteString("\n### " + title + "\n")
		for _, t := range group {
			sb.WriteString(formatToolLine(t) + "\n")
		}
	}
	writeGroup("任务管理", taskTools)
	writeGroup("记忆管理", memoryTools)
	writeGroup("其他功能", otherTools)
	return strings.TrimRight(sb.String(), "\n")
}

// formatToolLine renders one catalog line, keeping only the first line of
// the description capped at 100 characters.
func formatToolLine(t tools.Tool) string {
	desc := t.Description()
	if i := strings.IndexByte(desc, '\n'); i >= 0 {
		desc = desc[:i]
	}
	runes := []rune(desc)
	if len(runes) > 100 {
		desc = string(runes[:97]) + "..."
	}
	return fmt.Sprintf("- `%s`: %s", t.Name(), desc)
}

const rulesSection = `## 重要规则

### 1. 自然对话优先
- 如果用户只是闲聊或问候，直接友好回复，不要调用工具
- 如果不确定用户意图，可以询问澄清

### 2. 工具使用原则
- 根据用户需求选择最合适的工具
- 如果需要多个工具，可以连续调用
- 如果工具执行失败，向用户解释原因

### 3. 确认机制
- 删除操作会自动要求确认
- 等待用户明确回复「是」或「否」后再执行`

// BuildForConfirmation renders the prompt shown while an action waits
// for explicit approval.
func (b *ContextBuilder) BuildForConfirmation(action string) string {
	return fmt.Sprintf("⚠️ 需要确认\n\n即将执行: %s\n\n请回复「是」确认执行，或「否」取消操作。", action)
}
