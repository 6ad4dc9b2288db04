package tasks

import (
	"bufio"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// Manager owns the task list with JSONL persistence: one task per line,
// full rewrite on every mutation, per-line fault tolerance on load.
type Manager struct {
	mu     sync.Mutex
	path   string
	tasks  map[string]*Task
	order  []string // insertion order, for stable listings
	logger *slog.Logger
}

// NewManager loads tasks from the JSONL file at path, creating parent
// directories as needed. Corrupt lines are skipped with a warning.
func NewManager(path string, logger *slog.Logger) (*Manager, error) {
	if logger == nil {
		logger = slog.Default()
	}
	m := &Manager{
		path:   path,
		tasks:  make(map[string]*Task),
		logger: logger,
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create task dir: %w", err)
	}
	if err := m.load(); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Manager) load() error {
	f, err := os.Open(m.path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to open task file: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var task Task
		if err := json.Unmarshal([]byte(line), &task); err != nil {
			m.logger.Warn("skipping corrupt task line", "line", lineNo, "error", err)
			continue
		}
		if task.ID == "" {
			m.logger.Warn("skipping task with empty id", "line", lineNo)
			continue
		}
		if _, dup := m.tasks[task.ID]; !dup {
			m.order = append(m.order, task.ID)
		}
		m.tasks[task.ID] = &task
	}
	return scanner.Err()
}

// persistLocked rewrites the whole file. Callers hold the lock.
func (m *Manager) persistLocked() error {
	tmp := m.path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("failed to create task file: %w", err)
	}
	w := bufio.NewWriter(f)
	for _, id := range m.order {
		task, ok := m.tasks[id]
		if !ok {
			continue
		}
		line, err := json.Marshal(task)
		if err != nil {
			f.Close()
			return fmt.Errorf("failed to marshal task %s: %w", id, err)
		}
		w.Write(line)
		w.WriteByte('\n')
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, m.path)
}

// Create adds a new task and persists.
func (m *Manager) Create(task *Task) (*Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if task.ID == "" {
		fresh := NewTask(task.Title)
		fresh.Description = task.Description
		fresh.TaskType = task.TaskType
		if fresh.TaskType == "" {
			fresh.TaskType = TypeTodo
		}
		fresh.DueDate = task.DueDate
		fresh.Priority = task.Priority
		fresh.Dependencies = task.Dependencies
		fresh.Tags = task.Tags
		task = fresh
	}
	if _, exists := m.tasks[task.ID]; !exists {
		m.order = append(m.order, task.ID)
	}
	m.tasks[task.ID] = task
	return task, m.persistLocked()
}

// Get returns the task by id, nil when absent.
func (m *Manager) Get(id string) *Task {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tasks[id]
}

// FindByTitle returns open tasks whose title contains the keyword.
func (m *Manager) FindByTitle(keyword string) []*Task {
	m.mu.Lock()
	defer m.mu.Unlock()
	kw := strings.ToLower(keyword)
	var out []*Task
	for _, id := range m.order {
		t := m.tasks[id]
		if t.Status.Terminal() {
			continue
		}
		if strings.Contains(strings.ToLower(t.Title), kw) {
			out = append(out, t)
		}
	}
	return out
}

// ListFilter narrows List results.
type ListFilter struct {
	Status   TaskStatus
	Priority string // high, medium, low, or empty
}

// List returns open tasks (or those matching the filter), sorted by
// descending priority score.
func (m *Manager) List(filter ListFilter) []*Task {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	var out []*Task
	for _, id := range m.order {
		t := m.tasks[id]
		if filter.Status != "" {
			if t.Status != filter.Status {
				continue
			}
		} else if t.Status.Terminal() {
			continue
		}
		if filter.Priority != "" && t.PriorityBand() != strings.ToLower(filter.Priority) {
			continue
		}
		out = append(out, t)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].PriorityScore(now) > out[j].PriorityScore(now)
	})
	return out
}

// Update replaces an existing task wholesale and persists. Unknown ids
// are an error.
func (m *Manager) Update(task *Task) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.tasks[task.ID]; !ok {
		return fmt.Errorf("task %s not found", task.ID)
	}
	m.tasks[task.ID] = task
	return m.persistLocked()
}

// GetOverdue returns open tasks past their due date, in insertion order.
func (m *Manager) GetOverdue() []*Task {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	var out []*Task
	for _, id := range m.order {
		if t := m.tasks[id]; t.Overdue(now) {
			out = append(out, t)
		}
	}
	return out
}

// GetToday returns tasks due today that are neither completed nor
// cancelled.
func (m *Manager) GetToday() []*Task {
	m.mu.Lock()
	defer m.mu.Unlock()
	y, mo, d := time.Now().Date()
	var out []*Task
	for _, id := range m.order {
		t := m.tasks[id]
		if t.DueDate == nil || t.Status == StatusCompleted || t.Status == StatusCancelled {
			continue
		}
		dy, dmo, dd := t.DueDate.Date()
		if dy == y && dmo == mo && dd == d {
			out = append(out, t)
		}
	}
	return out
}

// CheckDependencies reports whether every dependency of the task exists
// and is completed. Unknown tasks and missing dependencies fail the
// check.
func (m *Manager) CheckDependencies(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	task, ok := m.tasks[id]
	if !ok {
		return false
	}
	for _, depID := range task.Dependencies {
		dep, ok := m.tasks[depID]
		if !ok || dep.Status != StatusCompleted {
			return false
		}
	}
	return true
}

// Transition moves a task to a new status if the move is legal,
// stamping CompletedAt on completion.
func (m *Manager) Transition(id string, to TaskStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	task, ok := m.tasks[id]
	if !ok {
		return fmt.Errorf("task %s not found", id)
	}
	if !CanTransition(task.Status, to) {
		return fmt.Errorf("illegal transition %s → %s for task %s", task.Status, to, id)
	}
	task.Status = to
	if to == StatusCompleted {
		now := time.Now()
		task.CompletedAt = &now
	}
	return m.persistLocked()
}

// Complete marks a task done, moving it through in_progress if needed.
func (m *Manager) Complete(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	task, ok := m.tasks[id]
	if !ok {
		return fmt.Errorf("task %s not found", id)
	}
	if task.Status.Terminal() {
		return fmt.Errorf("task %s is already %s", id, task.Status)
	}
	task.Status = StatusCompleted
	now := time.Now()
	task.CompletedAt = &now
	return m.persistLocked()
}

// Delete removes tasks by id, returning how many were removed.
func (m *Manager) Delete(ids []string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	removed := 0
	for _, id := range ids {
		if _, ok := m.tasks[id]; ok {
			delete(m.tasks, id)
			removed++
		}
	}
	if removed > 0 {
		m.compactOrderLocked()
		return removed, m.persistLocked()
	}
	return 0, nil
}

// DeleteAll removes every open task, returning how many were removed.
func (m *Manager) DeleteAll() (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	removed := 0
	for id, t := range m.tasks {
		if !t.Status.Terminal() {
			delete(m.tasks, id)
			removed++
		}
	}
	if removed > 0 {
		m.compactOrderLocked()
		return removed, m.persistLocked()
	}
	return 0, nil
}

func (m *Manager) compactOrderLocked() {
	kept := m.order[:0]
	for _, id := range m.order {
		if _, ok := m.tasks[id]; ok {
			kept = append(kept, id)
		}
	}
	m.order = kept
}

// ArchiveOld archives completed/cancelled tasks older than the cutoff,
// judged by CompletedAt when set, CreatedAt otherwise.
func (m *Manager) ArchiveOld(cutoff time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	archived := 0
	for _, t := range m.tasks {
		if t.Status != StatusCompleted && t.Status != StatusCancelled {
			continue
		}
		ref := t.CreatedAt
		if t.CompletedAt != nil {
			ref = *t.CompletedAt
		}
		if ref.Before(cutoff) {
			t.Status = StatusArchived
			archived++
		}
	}
	if archived > 0 {
		return archived, m.persistLocked()
	}
	return 0, nil
}

// Count returns how many tasks exist in total.
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.tasks)
}
