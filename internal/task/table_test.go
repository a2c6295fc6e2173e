package task

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewTableSeedsInit(t *testing.T) {
	tb := NewTable()

	init, ok := tb.Get(InitPID)
	require.True(t, ok)
	assert.Equal(t, "init", init.Command)
	assert.Equal(t, FlagKthread, init.Flags)
	assert.Equal(t, 1, tb.Len())
}

func TestRegisterAssignsMonotonicPIDs(t *testing.T) {
	tb := NewTable()

	a, err := tb.Register("shell", 0)
	require.NoError(t, err)
	b, err := tb.Register("probe", a.PID)
	require.NoError(t, err)

	assert.Greater(t, b.PID, a.PID)
	assert.Equal(t, StateRunning, a.State)
	assert.Equal(t, DefaultPriority, a.Priority)
	assert.NotEqual(t, a.Gen, b.Gen)
}

func TestRegisterUnknownParent(t *testing.T) {
	tb := NewTable()

	_, err := tb.Register("orphan", 9999)
	assert.ErrorIs(t, err, ErrParentNotFound)
}

func TestResolveRequiresMatchingGeneration(t *testing.T) {
	tb := NewTable()

	a, err := tb.Register("shell", 0)
	require.NoError(t, err)

	_, ok := tb.Resolve(a.Identity())
	assert.True(t, ok)

	stale := Identity{PID: a.PID, Gen: "gen_00000000000000000000000000"}
	_, ok = tb.Resolve(stale)
	assert.False(t, ok)
}

func TestSnapshotParentLinkage(t *testing.T) {
	tb := NewTable()

	parent, err := tb.Register("parent", 0)
	require.NoError(t, err)
	child, err := tb.Register("child", parent.PID)
	require.NoError(t, err)

	snap, ok := tb.Snapshot(child.Identity())
	require.True(t, ok)
	assert.Equal(t, child.PID, snap.PID)
	assert.Equal(t, parent.PID, snap.PPID)
	assert.Equal(t, "child", snap.Command)

	// Once the parent exits the child reports parent 0.
	require.NoError(t, tb.Exit(parent.PID))
	snap, ok = tb.Snapshot(child.Identity())
	require.True(t, ok)
	assert.Equal(t, uint32(0), snap.PPID)
}

func TestExit(t *testing.T) {
	tb := NewTable()

	a, err := tb.Register("shell", 0)
	require.NoError(t, err)

	require.NoError(t, tb.Exit(a.PID))
	_, ok := tb.Get(a.PID)
	assert.False(t, ok)

	assert.ErrorIs(t, tb.Exit(a.PID), ErrNotFound)
	assert.ErrorIs(t, tb.Exit(InitPID), ErrNotFound)
}

func TestSettersAndList(t *testing.T) {
	tb := NewTable()

	a, err := tb.Register("shell", 0)
	require.NoError(t, err)

	require.NoError(t, tb.SetState(a.PID, StateStopped))
	require.NoError(t, tb.SetPriority(a.PID, 130))

	got, ok := tb.Get(a.PID)
	require.True(t, ok)
	assert.Equal(t, StateStopped, got.State)
	assert.Equal(t, 130, got.Priority)

	list := tb.List()
	require.Len(t, list, 2)
	assert.Equal(t, InitPID, list[0].PID)
	assert.Equal(t, a.PID, list[1].PID)

	assert.ErrorIs(t, tb.SetState(999, StateRunning), ErrNotFound)
}

func TestFlagsHex(t *testing.T) {
	s := Snapshot{Flags: FlagForkNoExec | FlagRandomize}
	assert.Equal(t, "00400040", s.FlagsHex())

	s = Snapshot{Flags: 0}
	assert.Equal(t, "00000000", s.FlagsHex())
}
