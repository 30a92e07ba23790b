package buffer

import (
	"sync"
	"sync/atomic"
)

// RingBuffer is a thread-safe circular buffer acting as the decoder sink for
// one video surface. The active engine is the only writer; viewers (and the
// stall watchdog, which samples the write position) are independent readers,
// each holding its own read position. Old data is overwritten when full.
type RingBuffer struct {
	data      []byte
	size      int64
	writePos  atomic.Int64
	readPos   sync.Map
	destroyed atomic.Bool
	mu        sync.RWMutex
}

// NewRingBuffer creates and returns a new RingBuffer with the specified size.
func NewRingBuffer(size int64) *RingBuffer {
	rb := &RingBuffer{
		data: make([]byte, size),
		size: size,
	}
	rb.destroyed.Store(false)
	return rb
}

// Write appends data to the ring buffer. If the buffer is destroyed or nil,
// the operation is silently ignored. Thread-safe with concurrent reads.
func (rb *RingBuffer) Write(data []byte) {
	if rb.destroyed.Load() {
		return
	}

	rb.mu.RLock()
	defer rb.mu.RUnlock()

	if rb.destroyed.Load() || rb.data == nil {
		return
	}

	dataLen := int64(len(data))
	writePos := rb.writePos.Load()

	for i := int64(0); i < dataLen; i++ {
		rb.data[(writePos+i)%rb.size] = data[i]
	}

	rb.writePos.Add(dataLen)
}

// ReadAvailable copies bytes available to the given reader since its last
// position and advances that position. Readers that fall more than one
// buffer-length behind are skipped forward to the oldest retained byte.
// Returns nil when no new data is available or the buffer is destroyed.
func (rb *RingBuffer) ReadAvailable(readerID string) []byte {
	if rb.destroyed.Load() {
		return nil
	}

	rb.mu.RLock()
	defer rb.mu.RUnlock()

	if rb.destroyed.Load() || rb.data == nil {
		return nil
	}

	writePos := rb.writePos.Load()
	posVal, _ := rb.readPos.LoadOrStore(readerID, writePos)
	pos := posVal.(int64)

	if pos >= writePos {
		return nil
	}
	if writePos-pos > rb.size {
		pos = writePos - rb.size
	}

	out := make([]byte, writePos-pos)
	for i := int64(0); i < int64(len(out)); i++ {
		out[i] = rb.data[(pos+i)%rb.size]
	}

	rb.readPos.Store(readerID, writePos)
	return out
}

// RemoveReader removes a reader's position from the buffer.
func (rb *RingBuffer) RemoveReader(readerID string) {
	if rb.destroyed.Load() {
		return
	}
	rb.readPos.Delete(readerID)
}

// Reset clears the buffer content and all reader positions.
// Thread-safe but will not reset if the buffer is destroyed.
func (rb *RingBuffer) Reset() {
	if rb.destroyed.Load() {
		return
	}

	rb.mu.Lock()
	defer rb.mu.Unlock()

	if rb.destroyed.Load() {
		return
	}

	rb.writePos.Store(0)

	rb.readPos.Range(func(key, value interface{}) bool {
		rb.readPos.Delete(key)
		return true
	})
}

// Destroy zeroes all data, clears reader positions, and makes the buffer
// unusable. Irreversible and thread-safe.
func (rb *RingBuffer) Destroy() {
	if !rb.destroyed.CompareAndSwap(false, true) {
		return
	}

	rb.mu.Lock()
	defer rb.mu.Unlock()

	rb.readPos.Range(func(key, value interface{}) bool {
		rb.readPos.Delete(key)
		return true
	})

	if rb.data != nil {
		for i := range rb.data {
			rb.data[i] = 0
		}
		rb.data = nil
	}

	rb.writePos.Store(0)
}

// IsDestroyed returns true if the buffer has been destroyed.
func (rb *RingBuffer) IsDestroyed() bool {
	return rb.destroyed.Load()
}

// WritePosition returns the total number of bytes ever written. The stall
// watchdog samples this to decide whether data is still progressing.
func (rb *RingBuffer) WritePosition() int64 {
	if rb.destroyed.Load() {
		return 0
	}
	return rb.writePos.Load()
}
