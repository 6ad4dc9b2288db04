package builtin

import (
	"fmt"

	"github.com/haasonsaas/sidekick/internal/llm"
	"github.com/haasonsaas/sidekick/internal/memory"
	"github.com/haasonsaas/sidekick/internal/tasks"
	"github.com/haasonsaas/sidekick/internal/tools"
)

// Deps carries the subsystems the builtin tools operate on. Search and
// Summarizer are optional; tools depending on an absent subsystem are
// skipped.
type Deps struct {
	Tasks      *tasks.Manager
	Memory     *memory.System
	Session    HistoryClearer
	Search     Searcher
	Summarizer llm.Client
}

// Register wires the builtin tool set into a registry.
func Register(registry *tools.Registry, deps Deps) error {
	var set []tools.Tool

	if deps.Tasks != nil {
		set = append(set,
			&CreateTaskTool{Tasks: deps.Tasks},
			&ListTasksTool{Tasks: deps.Tasks},
			&CompleteTaskTool{Tasks: deps.Tasks},
			&DeleteTasksTool{Tasks: deps.Tasks},
		)
	}
	if deps.Memory != nil {
		set = append(set,
			&SearchMemoryTool{Memory: deps.Memory},
			&AddMemoryTool{Memory: deps.Memory},
			&SummarizeMemoriesTool{Memory: deps.Memory},
		)
	}
	if deps.Search != nil {
		set = append(set, &WebSearchTool{Search: deps.Search, Summarizer: deps.Summarizer})
	}
	set = append(set,
		&ChatTool{},
		&ClearHistoryTool{Session: deps.Session},
	)

	for _, tool := range set {
		if err := registry.Register(tool); err != nil {
			return fmt.Errorf("register %s: %w", tool.Name(), err)
		}
	}
	return nil
}
