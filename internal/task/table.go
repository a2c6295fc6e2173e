package task

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/picokernel/kernel/internal/shared/id"
)

var (
	// ErrNotFound indicates the PID is not in the table.
	ErrNotFound = errors.New("task not found")
	// ErrParentNotFound indicates the requested parent PID is not live.
	ErrParentNotFound = errors.New("parent task not found")
)

// InitPID is the PID of the boot task every orphan-free task descends from.
const InitPID uint32 = 1

// Table is the registry of live tasks. All access is synchronized; the
// returned Task values are copies, so callers never alias table state.
type Table struct {
	mu      sync.RWMutex
	tasks   map[uint32]*Task
	nextPID uint32
}

// NewTable creates a table seeded with the init task (PID 1).
func NewTable() *Table {
	t := &Table{
		tasks:   make(map[uint32]*Task),
		nextPID: InitPID + 1,
	}
	t.tasks[InitPID] = &Task{
		PID:       InitPID,
		Gen:       id.NewGen(),
		State:     StateInterruptible,
		Flags:     FlagKthread,
		Priority:  DefaultPriority,
		Command:   "init",
		StartedAt: time.Now(),
	}
	return t
}

// Register creates a task with the given command. A zero ppid parents the
// task to init; a non-zero ppid must name a live task.
func (tb *Table) Register(command string, ppid uint32) (Task, error) {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	if ppid == 0 {
		ppid = InitPID
	}
	parent, ok := tb.tasks[ppid]
	if !ok {
		return Task{}, ErrParentNotFound
	}

	pid := tb.nextPID
	tb.nextPID++

	t := &Task{
		PID:       pid,
		Gen:       id.NewGen(),
		State:     StateRunning,
		Flags:     FlagForkNoExec | FlagRandomize,
		Priority:  DefaultPriority,
		Command:   command,
		StartedAt: time.Now(),
		parentPID: parent.PID,
		parentGen: parent.Gen,
	}
	tb.tasks[pid] = t
	return *t, nil
}

// Exit removes a task from the table. Children keep their parent linkage;
// once the parent is gone their snapshots report parent 0.
func (tb *Table) Exit(pid uint32) error {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	if pid == InitPID {
		return ErrNotFound
	}
	if _, ok := tb.tasks[pid]; !ok {
		return ErrNotFound
	}
	delete(tb.tasks, pid)
	return nil
}

// Get returns a copy of the task with the given PID.
func (tb *Table) Get(pid uint32) (Task, bool) {
	tb.mu.RLock()
	defer tb.mu.RUnlock()

	t, ok := tb.tasks[pid]
	if !ok {
		return Task{}, false
	}
	return *t, true
}

// Resolve returns the task for an identity. Both PID and generation must
// match; a recycled PID with a different generation does not resolve.
func (tb *Table) Resolve(ident Identity) (Task, bool) {
	tb.mu.RLock()
	defer tb.mu.RUnlock()

	t, ok := tb.tasks[ident.PID]
	if !ok || t.Gen != ident.Gen {
		return Task{}, false
	}
	return *t, true
}

// Snapshot captures the scheduling metadata for an identity. The parent
// PID is resolved at capture time: if the recorded parent is no longer
// live (or its PID was recycled), the snapshot reports parent 0.
func (tb *Table) Snapshot(ident Identity) (Snapshot, bool) {
	tb.mu.RLock()
	defer tb.mu.RUnlock()

	t, ok := tb.tasks[ident.PID]
	if !ok || t.Gen != ident.Gen {
		return Snapshot{}, false
	}

	var ppid uint32
	if parent, ok := tb.tasks[t.parentPID]; ok && parent.Gen == t.parentGen {
		ppid = parent.PID
	}

	return Snapshot{
		PID:      t.PID,
		PPID:     ppid,
		State:    t.State,
		Flags:    t.Flags,
		Priority: t.Priority,
		Command:  t.Command,
	}, true
}

// SetState updates a task's run-state word.
func (tb *Table) SetState(pid uint32, state State) error {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	t, ok := tb.tasks[pid]
	if !ok {
		return ErrNotFound
	}
	t.State = state
	return nil
}

// SetPriority updates a task's normal priority.
func (tb *Table) SetPriority(pid uint32, prio int) error {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	t, ok := tb.tasks[pid]
	if !ok {
		return ErrNotFound
	}
	t.Priority = prio
	return nil
}

// List returns copies of all live tasks ordered by PID.
func (tb *Table) List() []Task {
	tb.mu.RLock()
	defer tb.mu.RUnlock()

	out := make([]Task, 0, len(tb.tasks))
	for _, t := range tb.tasks {
		out = append(out, *t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PID < out[j].PID })
	return out
}

// Len returns the number of live tasks.
func (tb *Table) Len() int {
	tb.mu.RLock()
	defer tb.mu.RUnlock()
	return len(tb.tasks)
}
