package getpinfo

// bufferPool is a bounded, non-blocking allocator for response buffers.
// It stands in for the original's atomic kernel allocator: acquiring a
// buffer never waits, and exhaustion is an observable failure rather than
// an impossibility.
type bufferPool struct {
	free chan []byte
	size int
}

func newBufferPool(count, size int) *bufferPool {
	if count < 1 {
		count = 1
	}
	p := &bufferPool{
		free: make(chan []byte, count),
		size: size,
	}
	for i := 0; i < count; i++ {
		p.free <- make([]byte, 0, size)
	}
	return p
}

// tryGet acquires an empty buffer without blocking.
func (p *bufferPool) tryGet() ([]byte, bool) {
	select {
	case b := <-p.free:
		return b[:0], true
	default:
		return nil, false
	}
}

// put returns a buffer to the pool. Dropping a foreign buffer would grow
// the channel past its bound, so only buffers of the pool's capacity are
// accepted back.
func (p *bufferPool) put(b []byte) {
	if cap(b) != p.size {
		return
	}
	select {
	case p.free <- b[:0]:
	default:
	}
}
