package builtin

import (
	"context"
	"fmt"
	"strings"

	"github.com/haasonsaas/sidekick/internal/llm"
	"github.com/haasonsaas/sidekick/internal/tools"
	"github.com/haasonsaas/sidekick/internal/tools/websearch"
)

// Searcher is the web search backend the tool runs over.
type Searcher interface {
	Search(ctx context.Context, query string, numResults int) ([]websearch.Result, error)
}

// WebSearchTool searches the web and optionally condenses the hits with
// the model.
type WebSearchTool struct {
	Search Searcher

	// Summarizer is optional; without it results are returned formatted
	// but unsummarized.
	Summarizer llm.Client
}

func (t *WebSearchTool) Name() string { return "web_search" }

func (t *WebSearchTool) Description() string {
	return "搜索网络信息。当用户需要获取实时信息、查询最新数据时使用。"
}

func (t *WebSearchTool) Parameters() []tools.Parameter {
	return []tools.Parameter{
		{Name: "query", Type: "string", Description: "搜索查询词", Required: true},
		{Name: "num_results", Type: "integer", Description: "返回结果数量", Default: 5},
		{Name: "summarize", Type: "boolean", Description: "是否总结结果", Default: true},
	}
}

func (t *WebSearchTool) Execute(ctx context.Context, args map[string]any) (*tools.Result, error) {
	query, _ := args["query"].(string)
	numResults := intArg(args, "num_results", 5)
	summarize := true
	if v, ok := args["summarize"].(bool); ok {
		summarize = v
	}

	results, err := t.Search.Search(ctx, query, numResults)
	if err != nil {
		return tools.Fail(fmt.Sprintf("搜索失败: %v", err)), nil
	}

	text := websearch.FormatResults(results)
	if summarize && t.Summarizer != nil && len(results) > 0 {
		if summary, err := t.summarizeResults(ctx, query, results); err == nil {
			text = summary
		}
	}

	return &tools.Result{
		Success:     true,
		Data:        map[string]any{"query": query, "results": text},
		Observation: fmt.Sprintf("🔍 搜索 '%s' 完成", query),
	}, nil
}

func (t *WebSearchTool) summarizeResults(ctx context.Context, query string, results []websearch.Result) (string, error) {
	limited := results
	if len(limited) > 5 {
		limited = limited[:5]
	}
	var b strings.Builder
	for _, r := range limited {
		fmt.Fprintf(&b, "[%d] %s\n%s\n\n", r.Rank, r.Title, r.Snippet)
	}

	prompt := fmt.Sprintf(`基于以下搜索结果，提供一个简洁准确的回答。

用户问题: %s

搜索结果:
%s
请:
1. 提取关键信息
2. 用简洁的中文回答
3. 如果信息有冲突，优先使用排名靠前的结果
4. 注明信息来源`, query, b.String())

	resp, err := t.Summarizer.Chat(ctx, []llm.Message{{Role: llm.RoleUser, Content: prompt}}, nil, llm.Options{})
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(resp.Content) == "" {
		return "", fmt.Errorf("empty summary")
	}
	return resp.Content, nil
}
