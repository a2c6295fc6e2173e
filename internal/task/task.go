// Package task models the kernel-visible scheduling metadata of tasks
// hosted by the pseudo-kernel. The state and flag words mirror the values
// the host kernel would expose for a real task.
package task

import (
	"fmt"
	"time"

	"github.com/picokernel/kernel/internal/shared/id"
)

// State is the run-state word of a task.
type State int64

// Run states, matching the host kernel's state word values.
const (
	StateRunning         State = 0
	StateInterruptible   State = 1
	StateUninterruptible State = 2
	StateStopped         State = 4
	StateTraced          State = 8
	StateDead            State = 16
	StateZombie          State = 32
)

// Per-task flag bits, matching the host kernel's flag word.
const (
	FlagIdle       uint32 = 0x00000002
	FlagExiting    uint32 = 0x00000004
	FlagForkNoExec uint32 = 0x00000040
	FlagSuperPriv  uint32 = 0x00000100
	FlagSignaled   uint32 = 0x00000400
	FlagKthread    uint32 = 0x00200000
	FlagRandomize  uint32 = 0x00400000
)

// DefaultPriority is the normal priority of a freshly registered task.
const DefaultPriority = 120

// Identity is the stable handle for a task: PID plus the generation token
// minted at registration. Comparing identities instead of raw PIDs keeps
// PID reuse from confusing ownership checks.
type Identity struct {
	PID uint32 `json:"pid"`
	Gen id.Gen `json:"gen"`
}

// Zero reports whether the identity is unset.
func (i Identity) Zero() bool {
	return i.PID == 0 && i.Gen == ""
}

func (i Identity) String() string {
	return fmt.Sprintf("%d/%s", i.PID, i.Gen)
}

// Task is a live entry in the table.
type Task struct {
	PID       uint32    `json:"pid"`
	Gen       id.Gen    `json:"gen"`
	State     State     `json:"state"`
	Flags     uint32    `json:"flags"`
	Priority  int       `json:"priority"`
	Command   string    `json:"command"`
	StartedAt time.Time `json:"started_at"`

	// Parent linkage. The parent's generation is recorded so that a
	// recycled parent PID does not resurrect the relationship.
	parentPID uint32
	parentGen id.Gen
}

// Identity returns the task's stable handle.
func (t Task) Identity() Identity {
	return Identity{PID: t.PID, Gen: t.Gen}
}

// Snapshot is the immutable tuple of scheduling metadata captured at
// submit time.
type Snapshot struct {
	PID      uint32
	PPID     uint32
	State    State
	Flags    uint32
	Priority int
	Command  string
}

// FlagsHex renders the flag word as eight lowercase hex digits.
func (s Snapshot) FlagsHex() string {
	return fmt.Sprintf("%08x", s.Flags)
}
