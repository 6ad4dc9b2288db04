package agent

import "strings"

// Mode is the execution tier chosen for a user turn.
type Mode string

const (
	ModeFastPath   Mode = "fast_path"
	ModeSingleStep Mode = "single_step"
	ModeMultiStep  Mode = "multi_step"
)

var greetingPatterns = []string{"你好", "嗨", "hello", "hi", "谢谢", "再见", "拜拜"}

var multiStepIndicators = []string{"然后", "先...再", "帮我...然后", "整理并", "总结所有", "分析并"}

var deleteTaskKeywords = []string{"清理任务", "删除任务", "清空任务", "移除任务", "删除这些", "清理这些"}

var viewTaskKeywords = []string{"有什么任务", "查看任务", "待办", "显示任务", "列出"}

// analyzeIntent picks an execution mode by keyword heuristics, avoiding
// an LLM round trip.
func analyzeIntent(input string) Mode {
	lower := strings.ToLower(input)

	for _, p := range greetingPatterns {
		if strings.Contains(lower, p) && len([]rune(input)) < 20 {
			return ModeFastPath
		}
	}
	for _, ind := range multiStepIndicators {
		if strings.Contains(input, ind) {
			return ModeMultiStep
		}
	}
	// Deletion delegates confirmation to the tool, so one step suffices.
	for _, kw := range deleteTaskKeywords {
		if strings.Contains(input, kw) {
			return ModeSingleStep
		}
	}
	for _, kw := range viewTaskKeywords {
		if strings.Contains(input, kw) {
			return ModeSingleStep
		}
	}
	return ModeSingleStep
}

var affirmativeWords = map[string]bool{
	"确认": true, "yes": true, "是": true, "确定": true,
	"好的": true, "执行": true, "删除": true, "清理": true,
}

var negativeWords = map[string]bool{
	"取消": true, "cancel": true, "no": true, "否": true,
	"不": true, "算了": true, "不要": true,
}

func isAffirmative(input string) bool {
	return affirmativeWords[strings.ToLower(strings.TrimSpace(input))]
}

func isNegative(input string) bool {
	return negativeWords[strings.ToLower(strings.TrimSpace(input))]
}

// IntentClassifier is an optional fast-path router that maps an
// utterance to a named intent without an LLM call.
type IntentClassifier interface {
	Classify(input string) string
}

// intentToTool maps classifier intents to registered tool names.
var intentToTool = map[string]string{
	"chat":               "chat",
	"thanks":             "chat",
	"goodbye":            "chat",
	"help":               "chat",
	"create_task":        "create_task",
	"query_task":         "list_tasks",
	"update_task":        "complete_task",
	"delete_task":        "delete_tasks",
	"set_reminder":       "create_task",
	"create_memory":      "add_memory",
	"query_memory":       "search_memory",
	"summarize":          "summarize_memories",
	"search":             "web_search",
	"clear_history":      "clear_history",
	"switch_personality": "switch_personality",
}

// reflectTool checks a completed single-step result against the user's
// wording and returns a corrective tool name when the route was wrong.
func reflectTool(input, toolName string) string {
	lower := strings.ToLower(input)

	if toolName == "list_tasks" {
		for _, kw := range []string{"清理", "删除", "移除", "清空", "不要", "去掉", "删掉"} {
			if strings.Contains(lower, kw) {
				return "delete_tasks"
			}
		}
	}
	if toolName == "delete_tasks" {
		hasView := false
		for _, kw := range []string{"查看", "显示", "有什么", "列出", "看看"} {
			if strings.Contains(lower, kw) {
				hasView = true
				break
			}
		}
		if hasView {
			for _, kw := range []string{"清理", "删除", "移除"} {
				if strings.Contains(lower, kw) {
					return ""
				}
			}
			return "list_tasks"
		}
	}
	return ""
}
