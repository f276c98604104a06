// Package ringbuffer implements a queue that can be written and read in
// parallel, and that blocks Pull() until there's something to read or the
// queue has been closed. It decouples a hot producer (the RTSP packet
// reader, a stream writer) from a slower consumer (a TCP connection writer,
// the HLS muxer) without the producer blocking on a full queue.
package ringbuffer

import (
	"errors"
	"sync"
)

// ErrSizeNotPowerOfTwo is returned by New when size isn't a power of two.
var ErrSizeNotPowerOfTwo = errors.New("size must be a power of two")

// RingBuffer is a queue that can be written and read in parallel.
type RingBuffer struct {
	size uint64

	mutex  sync.Mutex
	cond   *sync.Cond
	buffer []interface{}
	head   uint64
	count  uint64
	closed bool
}

// New allocates a RingBuffer with the given size, which must be a power
// of two.
func New(size uint64) (*RingBuffer, error) {
	if size == 0 || size&(size-1) != 0 {
		return nil, ErrSizeNotPowerOfTwo
	}

	r := &RingBuffer{
		size:   size,
		buffer: make([]interface{}, size),
	}
	r.cond = sync.NewCond(&r.mutex)

	return r, nil
}

// Close makes any pending and future Pull() calls return false once the
// queue has been drained.
func (r *RingBuffer) Close() {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	r.closed = true
	r.cond.Broadcast()
}

// Reset restores the queue to its initial, open, empty state so it can be
// reused after Close().
func (r *RingBuffer) Reset() {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	for i := range r.buffer {
		r.buffer[i] = nil
	}
	r.head = 0
	r.count = 0
	r.closed = false
}

// Push appends an element. It returns false without blocking if the queue
// is full or closed; callers on a real-time media path are expected to
// treat a dropped push as a lost frame, not an error worth retrying.
func (r *RingBuffer) Push(data interface{}) bool {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if r.closed || r.count == r.size {
		return false
	}

	tail := (r.head + r.count) % r.size
	r.buffer[tail] = data
	r.count++
	r.cond.Signal()

	return true
}

// Pull removes and returns the oldest element, blocking until one is
// available. It returns ok=false once the queue has been closed and
// drained.
func (r *RingBuffer) Pull() (interface{}, bool) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	for r.count == 0 && !r.closed {
		r.cond.Wait()
	}

	if r.count == 0 {
		return nil, false
	}

	data := r.buffer[r.head]
	r.buffer[r.head] = nil
	r.head = (r.head + 1) % r.size
	r.count--

	return data, true
}
