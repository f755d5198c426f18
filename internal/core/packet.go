// Package core defines core data structures with zero external dependencies.
package core

import "time"

// PacketBuffer is a fixed-capacity frame buffer checked out of a pool.
// Exactly one stage owns a buffer at a time; ownership moves with the pointer.
type PacketBuffer struct {
	data      []byte
	length    int
	origLen   int
	Timestamp time.Time

	// pooled is owned by the pool and guarded by its lock.
	pooled bool
}

// NewPacketBuffer allocates a buffer with the given capacity.
func NewPacketBuffer(capacity int) *PacketBuffer {
	return &PacketBuffer{data: make([]byte, capacity)}
}

// Fill copies a captured frame into the buffer, truncating it to capacity.
// Returns the number of bytes stored.
func (b *PacketBuffer) Fill(frame []byte, ts time.Time) int {
	n := copy(b.data, frame)
	b.length = n
	b.origLen = len(frame)
	b.Timestamp = ts
	return n
}

// Bytes returns the captured bytes.
func (b *PacketBuffer) Bytes() []byte {
	return b.data[:b.length]
}

// Len returns the captured length.
func (b *PacketBuffer) Len() int {
	return b.length
}

// OrigLen returns the frame length on the wire.
func (b *PacketBuffer) OrigLen() int {
	return b.origLen
}

// Cap returns the fixed buffer capacity.
func (b *PacketBuffer) Cap() int {
	return len(b.data)
}

// Reset clears the captured length and timestamp.
func (b *PacketBuffer) Reset() {
	b.length = 0
	b.origLen = 0
	b.Timestamp = time.Time{}
}

// Pooled reports whether the buffer currently sits in a pool.
// Only the owning pool may call MarkPooled.
func (b *PacketBuffer) Pooled() bool {
	return b.pooled
}

// MarkPooled sets the pool residency flag.
func (b *PacketBuffer) MarkPooled(v bool) {
	b.pooled = v
}

// Recycler returns buffers to their pool.
type Recycler interface {
	Release(b *PacketBuffer) bool
}
