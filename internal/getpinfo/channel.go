// Package getpinfo implements the synthetic syscall channel: a single-slot
// request/response protocol carried over one pseudo-file. A task writes a
// command verb (submit), then reads back a textual report on its own
// scheduling metadata (fetch). At most one request is outstanding at a
// time, and a response is only ever delivered to the task that produced it.
package getpinfo

import (
	"bytes"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/picokernel/kernel/internal/logging"
	"github.com/picokernel/kernel/internal/task"
)

const (
	// MaxCall bounds the submitted call string. A write of MaxCall bytes
	// or more is rejected outright.
	MaxCall = 64

	// MaxResp bounds the response buffer, including its NUL terminator.
	MaxResp = 1024

	// VerbGetPinfo is the one verb the channel ships with.
	VerbGetPinfo = "getpinfo"

	invalidResponse = "Failed: invalid operation\n"
)

// Builder synthesises the textual response for a recognised verb from the
// caller's scheduling metadata.
type Builder func(snap task.Snapshot, verb string) string

// Channel is the syscall channel core. The mutex is the rendition of the
// original's preemption-disabled critical section, upgraded to a real
// cross-CPU exclusion: it guards the session slot (owner, resp, claimedAt)
// and is only ever held across non-blocking work.
type Channel struct {
	table *task.Table
	log   *logging.Logger
	rec   Recorder
	pool  *bufferPool
	now   func() time.Time

	verbMu sync.RWMutex
	verbs  map[string]Builder

	// Session slot. owner and resp are set and cleared together: the
	// slot is empty iff resp is nil.
	mu        sync.Mutex
	owner     task.Identity
	resp      []byte
	claimedAt time.Time
}

// Option configures a Channel.
type Option func(*Channel)

// WithLogger attaches a logger.
func WithLogger(log *logging.Logger) Option {
	return func(c *Channel) { c.log = log }
}

// WithRecorder attaches a metrics recorder.
func WithRecorder(rec Recorder) Option {
	return func(c *Channel) { c.rec = rec }
}

// WithBufferCount sizes the response buffer pool.
func WithBufferCount(n int) Option {
	return func(c *Channel) { c.pool = newBufferPool(n, MaxResp) }
}

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(c *Channel) { c.now = now }
}

// NewChannel creates a channel over the given task table with the
// getpinfo verb registered.
func NewChannel(table *task.Table, opts ...Option) *Channel {
	c := &Channel{
		table: table,
		log:   logging.NewNop(),
		rec:   noopRecorder{},
		pool:  newBufferPool(1, MaxResp),
		now:   time.Now,
		verbs: make(map[string]Builder),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.verbs[VerbGetPinfo] = buildReport
	return c
}

// Register adds a verb. Extension is additive; the built-in verb cannot
// be replaced.
func (c *Channel) Register(verb string, build Builder) error {
	c.verbMu.Lock()
	defer c.verbMu.Unlock()

	if _, ok := c.verbs[verb]; ok {
		return ErrVerbExists
	}
	c.verbs[verb] = build
	return nil
}

// Submit handles a write of the call string by caller. On success the
// response is synthesised into the session slot and the full byte count is
// reported as consumed. An unrecognised verb still consumes the write: the
// failure message is delivered in-band through Fetch.
func (c *Channel) Submit(caller task.Identity, data []byte) (int, error) {
	if len(data) >= MaxCall {
		c.rec.RecordSubmit("invalid_argument")
		return 0, ErrInvalidArgument
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.resp != nil {
		c.rec.RecordSubmit("busy")
		return 0, ErrTryAgain
	}

	resp, ok := c.pool.tryGet()
	if !ok {
		c.rec.RecordSubmit("no_space")
		return 0, ErrNoSpace
	}

	c.owner = caller
	c.resp = resp
	c.claimedAt = c.now()
	c.rec.SetSlotOccupied(true)

	// Bounded call buffer with forced termination at the last byte.
	var callbuf [MaxCall]byte
	copy(callbuf[:MaxCall-1], data)
	verb := verbString(callbuf[:])

	c.verbMu.RLock()
	build, known := c.verbs[verb]
	c.verbMu.RUnlock()

	snap, live := task.Snapshot{}, false
	if known {
		snap, live = c.table.Snapshot(caller)
	}

	if !known || !live {
		c.resp = appendResponse(c.resp, invalidResponse)
		c.log.Debug("call rejected",
			zap.String("verb", verb),
			zap.String("caller", caller.String()),
			zap.Bool("known_verb", known),
		)
		c.rec.RecordSubmit("invalid_verb")
		return len(data), nil
	}

	c.resp = appendResponse(c.resp, build(snap, verb))
	c.log.Debug("call accepted",
		zap.String("verb", verb),
		zap.String("caller", caller.String()),
		zap.Int("response_len", len(c.resp)),
	)
	c.rec.RecordSubmit("ok")
	return len(data), nil
}

// Fetch handles a read by caller into buf. A non-owner observes the slot
// as empty and reads zero bytes. The owner receives the response, NUL
// terminator included, truncated to the buffer with the final byte forced
// to NUL when the buffer is too small. Delivery releases the slot.
func (c *Channel) Fetch(caller task.Identity, buf []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.resp == nil || c.owner != caller {
		c.rec.RecordFetch("foreign")
		return 0, nil
	}

	rc := len(c.resp) // string length plus terminator

	n := rc
	outcome := "ok"
	if len(buf) < rc {
		n = len(buf)
		if n == 0 {
			// Nothing can be transferred into an empty buffer; the
			// response stays queued for a real read.
			c.rec.RecordFetch("empty_buffer")
			return 0, nil
		}
		copy(buf, c.resp[:n])
		buf[n-1] = 0
		outcome = "truncated"
	} else {
		copy(buf, c.resp)
	}

	c.release()
	c.rec.RecordFetch(outcome)
	return n, nil
}

// Busy reports whether a request is outstanding.
func (c *Channel) Busy() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.resp != nil
}

// Owner returns the identity holding the slot, if occupied.
func (c *Channel) Owner() (task.Identity, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.resp == nil {
		return task.Identity{}, false
	}
	return c.owner, true
}

// ReclaimOrphan releases the slot if its response has gone unfetched for
// longer than maxAge, returning the abandoning owner. The original design
// leaked such a slot until unload.
func (c *Channel) ReclaimOrphan(maxAge time.Duration) (task.Identity, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.resp == nil || c.now().Sub(c.claimedAt) < maxAge {
		return task.Identity{}, false
	}

	owner := c.owner
	age := c.now().Sub(c.claimedAt)
	c.release()
	c.log.Warn("reclaimed orphaned session",
		zap.String("owner", owner.String()),
		zap.Duration("age", age),
	)
	c.rec.RecordOrphanReclaim()
	return owner, true
}

// drain frees a lingering response buffer at unload.
func (c *Channel) drain() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.resp != nil {
		c.release()
	}
}

// release clears the slot. Caller holds c.mu. The owner and the buffer
// are cleared together; one without the other is a protocol violation.
func (c *Channel) release() {
	c.pool.put(c.resp)
	c.resp = nil
	c.owner = task.Identity{}
	c.claimedAt = time.Time{}
	c.rec.SetSlotOccupied(false)
}

// buildReport formats the scheduling report for the getpinfo verb. The
// command line echoes the submitted call string, not the task's registered
// name.
func buildReport(snap task.Snapshot, verb string) string {
	return fmt.Sprintf(
		"Success:\n\tCurrent PID %d\n\tparent %d\n\tstate %d\n\tflags %s\n\tpriority %d\n\tcommand %s\n",
		snap.PID, snap.PPID, snap.State, snap.FlagsHex(), snap.Priority, verb,
	)
}

// verbString interprets a call buffer as a NUL-terminated string.
func verbString(callbuf []byte) string {
	if i := bytes.IndexByte(callbuf, 0); i >= 0 {
		return string(callbuf[:i])
	}
	return string(callbuf)
}

// appendResponse writes text plus the NUL terminator into buf, truncating
// to the buffer's bound. The terminator is always the last byte.
func appendResponse(buf []byte, text string) []byte {
	limit := cap(buf) - 1
	if len(text) > limit {
		text = text[:limit]
	}
	buf = append(buf[:0], text...)
	return append(buf, 0)
}
