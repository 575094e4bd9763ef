package oni

import "sync/atomic"

// sharedBuffer is a contiguous byte region with a read/write cursor pair and
// an atomically managed reference count. It is created by the inbound
// assembler when headroom runs low and by the outbound builder when an
// allocation doesn't fit the current write buffer; it is freed once every
// holder — the context and every live Frame carved out of it — has dropped
// its reference.
//
// The cursors (readPos/endPos, or writePos for the outbound side) are
// touched only by the single owning assembler/builder; refCount is the
// only field shared
// concurrently between the producer (which drops the context's reference
// on refill) and consumers (which drop a frame's reference on destroy), so
// it alone needs atomic increment/decrement with release-acquire ordering.
type sharedBuffer struct {
	data     []byte
	readPos  int
	endPos   int
	writePos int
	refCount int32
}

func newSharedBuffer(capacity int) *sharedBuffer {
	return &sharedBuffer{
		data:     make([]byte, capacity),
		refCount: 1,
	}
}

// cloneRef takes a strong reference, incrementing the count atomically so
// it is safe to call from either the acquisition or control thread.
func (b *sharedBuffer) cloneRef() *sharedBuffer {
	atomic.AddInt32(&b.refCount, 1)
	return b
}

// dropRef releases a strong reference. The backing array becomes eligible
// for garbage collection once the count reaches zero; there is no
// destructor to invoke explicitly, but the release-acquire semantics of
// AddInt32 still guarantee that any thread observing refCount hit zero has
// also observed every write made into data before the release.
func (b *sharedBuffer) dropRef() {
	atomic.AddInt32(&b.refCount, -1)
}

func (b *sharedBuffer) remaining() int {
	return len(b.data) - b.endPos
}

func (b *sharedBuffer) writeRemaining() int {
	return len(b.data) - b.writePos
}
