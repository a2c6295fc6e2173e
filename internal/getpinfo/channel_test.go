package getpinfo

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/picokernel/kernel/internal/task"
)

func newTestChannel(t *testing.T, opts ...Option) (*Channel, *task.Table, task.Task) {
	t.Helper()
	table := task.NewTable()
	caller, err := table.Register("probe", 0)
	require.NoError(t, err)
	return NewChannel(table, opts...), table, caller
}

func TestSubmitFetchSuccess(t *testing.T) {
	c, _, caller := newTestChannel(t)

	n, err := c.Submit(caller.Identity(), []byte("getpinfo"))
	require.NoError(t, err)
	assert.Equal(t, 8, n)

	buf := make([]byte, 512)
	n, err = c.Fetch(caller.Identity(), buf)
	require.NoError(t, err)

	payload := string(buf[:n])
	assert.True(t, strings.HasPrefix(payload, "Success:\n\tCurrent PID "))
	assert.Equal(t, 6, strings.Count(payload, "\n\t"))

	// The command line echoes the submitted call string, not the name the
	// caller was registered under.
	assert.True(t, strings.HasSuffix(payload, "\tcommand getpinfo\n\x00"))

	// Reported length is string length plus the terminator.
	assert.Equal(t, strings.IndexByte(payload, 0)+1, n)

	expected := fmt.Sprintf(
		"Success:\n\tCurrent PID %d\n\tparent %d\n\tstate 0\n\tflags 00400040\n\tpriority 120\n\tcommand getpinfo\n\x00",
		caller.PID, task.InitPID,
	)
	assert.Equal(t, expected, payload)
}

func TestSubmitInvalidVerb(t *testing.T) {
	c, _, caller := newTestChannel(t)

	// The write itself succeeds; the semantic failure travels in-band.
	n, err := c.Submit(caller.Identity(), []byte("hello"))
	require.NoError(t, err)
	assert.Equal(t, 5, n)
	assert.True(t, c.Busy())

	buf := make([]byte, 512)
	n, err = c.Fetch(caller.Identity(), buf)
	require.NoError(t, err)
	assert.Equal(t, 27, n)
	assert.Equal(t, "Failed: invalid operation\n\x00", string(buf[:n]))
	assert.False(t, c.Busy())
}

func TestSlotBusy(t *testing.T) {
	c, table, t1 := newTestChannel(t)
	t2, err := table.Register("rival", 0)
	require.NoError(t, err)

	_, err = c.Submit(t1.Identity(), []byte("getpinfo"))
	require.NoError(t, err)

	_, err = c.Submit(t2.Identity(), []byte("getpinfo"))
	assert.ErrorIs(t, err, ErrTryAgain)

	// The first caller's response is intact.
	buf := make([]byte, 512)
	n, err := c.Fetch(t1.Identity(), buf)
	require.NoError(t, err)
	assert.Contains(t, string(buf[:n]), fmt.Sprintf("Current PID %d", t1.PID))
}

func TestOversizedPayload(t *testing.T) {
	c, _, caller := newTestChannel(t)

	payload := make([]byte, MaxCall)
	_, err := c.Submit(caller.Identity(), payload)
	assert.ErrorIs(t, err, ErrInvalidArgument)
	assert.False(t, c.Busy())

	// A payload one byte under the bound is accepted.
	_, err = c.Submit(caller.Identity(), payload[:MaxCall-1])
	require.NoError(t, err)
	assert.True(t, c.Busy())
}

func TestOversizedPayloadLeavesSlotState(t *testing.T) {
	c, table, t1 := newTestChannel(t)
	t2, err := table.Register("rival", 0)
	require.NoError(t, err)

	_, err = c.Submit(t1.Identity(), []byte("getpinfo"))
	require.NoError(t, err)

	_, err = c.Submit(t2.Identity(), make([]byte, MaxCall))
	assert.ErrorIs(t, err, ErrInvalidArgument)

	owner, ok := c.Owner()
	require.True(t, ok)
	assert.Equal(t, t1.Identity(), owner)
}

func TestFetchTruncation(t *testing.T) {
	c, _, caller := newTestChannel(t)

	_, err := c.Submit(caller.Identity(), []byte("getpinfo"))
	require.NoError(t, err)

	buf := make([]byte, 10)
	n, err := c.Fetch(caller.Identity(), buf)
	require.NoError(t, err)
	assert.Equal(t, 10, n)
	assert.Equal(t, byte(0), buf[9])
	assert.Equal(t, "Success:\n", string(buf[:9]))
	assert.False(t, c.Busy())
}

func TestForeignFetch(t *testing.T) {
	c, table, t1 := newTestChannel(t)
	t2, err := table.Register("snoop", 0)
	require.NoError(t, err)

	_, err = c.Submit(t1.Identity(), []byte("getpinfo"))
	require.NoError(t, err)

	// A non-owner observes end-of-file and does not disturb the slot.
	buf := make([]byte, 512)
	n, err := c.Fetch(t2.Identity(), buf)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.True(t, c.Busy())

	n, err = c.Fetch(t1.Identity(), buf)
	require.NoError(t, err)
	assert.Contains(t, string(buf[:n]), "Success:")
}

func TestBufferLifecycle(t *testing.T) {
	c, _, caller := newTestChannel(t)

	_, err := c.Submit(caller.Identity(), []byte("getpinfo"))
	require.NoError(t, err)

	buf := make([]byte, 512)
	_, err = c.Fetch(caller.Identity(), buf)
	require.NoError(t, err)

	// A further fetch by the same task reads zero bytes.
	n, err := c.Fetch(caller.Identity(), buf)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	// And a subsequent submit succeeds.
	_, err = c.Submit(caller.Identity(), []byte("getpinfo"))
	assert.NoError(t, err)
}

func TestNoSpace(t *testing.T) {
	c, _, caller := newTestChannel(t, WithBufferCount(1))

	// Drain the pool so allocation fails with the slot still empty.
	_, ok := c.pool.tryGet()
	require.True(t, ok)

	_, err := c.Submit(caller.Identity(), []byte("getpinfo"))
	assert.ErrorIs(t, err, ErrNoSpace)

	// Allocation failure must not leave the slot occupied.
	assert.False(t, c.Busy())
}

func TestBusyTakesPrecedenceOverNoSpace(t *testing.T) {
	c, table, t1 := newTestChannel(t, WithBufferCount(1))
	t2, err := table.Register("rival", 0)
	require.NoError(t, err)

	_, err = c.Submit(t1.Identity(), []byte("getpinfo"))
	require.NoError(t, err)

	// Pool is now empty and the slot occupied; the busy rejection wins.
	_, err = c.Submit(t2.Identity(), []byte("getpinfo"))
	assert.ErrorIs(t, err, ErrTryAgain)
}

func TestZeroCapacityFetch(t *testing.T) {
	c, _, caller := newTestChannel(t)

	_, err := c.Submit(caller.Identity(), []byte("getpinfo"))
	require.NoError(t, err)

	n, err := c.Fetch(caller.Identity(), nil)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	// Nothing was transferred, so the response stays queued.
	assert.True(t, c.Busy())

	buf := make([]byte, 512)
	n, err = c.Fetch(caller.Identity(), buf)
	require.NoError(t, err)
	assert.Contains(t, string(buf[:n]), "Success:")
}

func TestVerbWithEmbeddedTerminator(t *testing.T) {
	c, _, caller := newTestChannel(t)

	// The call string ends at the first NUL, like a C string.
	_, err := c.Submit(caller.Identity(), []byte("getpinfo\x00trailing"))
	require.NoError(t, err)

	buf := make([]byte, 512)
	n, err := c.Fetch(caller.Identity(), buf)
	require.NoError(t, err)
	assert.Contains(t, string(buf[:n]), "\tcommand getpinfo\n")
}

func TestSubmitFromExitedTask(t *testing.T) {
	c, table, caller := newTestChannel(t)
	require.NoError(t, table.Exit(caller.PID))

	n, err := c.Submit(caller.Identity(), []byte("getpinfo"))
	require.NoError(t, err)
	assert.Equal(t, 8, n)

	buf := make([]byte, 512)
	n, err = c.Fetch(caller.Identity(), buf)
	require.NoError(t, err)
	assert.Equal(t, "Failed: invalid operation\n\x00", string(buf[:n]))
}

func TestRegisterVerb(t *testing.T) {
	c, _, caller := newTestChannel(t)

	err := c.Register("getstate", func(snap task.Snapshot, verb string) string {
		return fmt.Sprintf("Success:\n\tstate %d\n", snap.State)
	})
	require.NoError(t, err)

	assert.ErrorIs(t, c.Register("getstate", nil), ErrVerbExists)
	assert.ErrorIs(t, c.Register(VerbGetPinfo, nil), ErrVerbExists)

	_, err = c.Submit(caller.Identity(), []byte("getstate"))
	require.NoError(t, err)

	buf := make([]byte, 512)
	n, err := c.Fetch(caller.Identity(), buf)
	require.NoError(t, err)
	assert.Equal(t, "Success:\n\tstate 0\n\x00", string(buf[:n]))
}

func TestResponseBounded(t *testing.T) {
	c, _, caller := newTestChannel(t)

	require.NoError(t, c.Register("flood", func(task.Snapshot, string) string {
		return strings.Repeat("x", 4*MaxResp)
	}))

	_, err := c.Submit(caller.Identity(), []byte("flood"))
	require.NoError(t, err)

	buf := make([]byte, 2*MaxResp)
	n, err := c.Fetch(caller.Identity(), buf)
	require.NoError(t, err)
	assert.Equal(t, MaxResp, n)
	assert.Equal(t, byte(0), buf[n-1])
	assert.Equal(t, byte('x'), buf[n-2])
}

func TestOrphanReclaim(t *testing.T) {
	now := time.Now()
	clock := func() time.Time { return now }
	c, _, caller := newTestChannel(t, WithClock(clock))

	_, err := c.Submit(caller.Identity(), []byte("getpinfo"))
	require.NoError(t, err)

	// Too young to reclaim.
	_, ok := c.ReclaimOrphan(time.Minute)
	assert.False(t, ok)
	assert.True(t, c.Busy())

	now = now.Add(2 * time.Minute)
	owner, ok := c.ReclaimOrphan(time.Minute)
	require.True(t, ok)
	assert.Equal(t, caller.Identity(), owner)
	assert.False(t, c.Busy())

	// The reclaimed buffer is usable for the next submit.
	_, err = c.Submit(caller.Identity(), []byte("getpinfo"))
	assert.NoError(t, err)
}

func TestReclaimEmptySlot(t *testing.T) {
	c, _, _ := newTestChannel(t)

	_, ok := c.ReclaimOrphan(0)
	assert.False(t, ok)
}

type countingRecorder struct {
	submits  map[string]int
	fetches  map[string]int
	reclaims int
	occupied bool
}

func newCountingRecorder() *countingRecorder {
	return &countingRecorder{submits: map[string]int{}, fetches: map[string]int{}}
}

func (r *countingRecorder) RecordSubmit(outcome string) { r.submits[outcome]++ }
func (r *countingRecorder) RecordFetch(outcome string)  { r.fetches[outcome]++ }
func (r *countingRecorder) SetSlotOccupied(b bool)      { r.occupied = b }
func (r *countingRecorder) RecordOrphanReclaim()        { r.reclaims++ }

func TestRecorderOutcomes(t *testing.T) {
	rec := newCountingRecorder()
	c, table, t1 := newTestChannel(t, WithRecorder(rec))
	t2, err := table.Register("rival", 0)
	require.NoError(t, err)

	c.Submit(t1.Identity(), make([]byte, MaxCall))
	c.Submit(t1.Identity(), []byte("getpinfo"))
	c.Submit(t2.Identity(), []byte("getpinfo"))
	c.Fetch(t2.Identity(), make([]byte, 512))
	c.Fetch(t1.Identity(), make([]byte, 512))

	assert.Equal(t, 1, rec.submits["invalid_argument"])
	assert.Equal(t, 1, rec.submits["ok"])
	assert.Equal(t, 1, rec.submits["busy"])
	assert.Equal(t, 1, rec.fetches["foreign"])
	assert.Equal(t, 1, rec.fetches["ok"])
	assert.False(t, rec.occupied)
}
