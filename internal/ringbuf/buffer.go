// Package ringbuf implements the growable byte arena used for per-connection
// read and write staging: a single contiguous slice with independent read and
// write cursors, grown by compaction before allocation.
package ringbuf

import (
	"golang.org/x/sys/unix"
)

// scratchSize is the size of the secondary gather-read segment used to drain
// a socket in one syscall even when the arena's writable region is smaller
// than what the kernel has ready. Matches the original implementation's stack
// buffer; kept on the heap here since goroutine stacks are not a safe place
// to stash 64KiB per call (spec note on reimplementations with small stacks).
const scratchSize = 65535

// Buffer is a single-owner byte arena. It is not safe for concurrent use.
type Buffer struct {
	buf      []byte
	readPos  int
	writePos int
}

// New allocates a Buffer with the given initial capacity.
func New(initSize int) *Buffer {
	if initSize <= 0 {
		initSize = 1024
	}
	return &Buffer{buf: make([]byte, initSize)}
}

// Writable returns the number of bytes that can be written before the arena
// must be compacted or grown.
func (b *Buffer) Writable() int { return len(b.buf) - b.writePos }

// Readable returns the number of unread bytes.
func (b *Buffer) Readable() int { return b.writePos - b.readPos }

// Prependable returns the number of bytes already consumed from the front.
func (b *Buffer) Prependable() int { return b.readPos }

// BeginRead returns the unread region of the arena.
func (b *Buffer) BeginRead() []byte { return b.buf[b.readPos:b.writePos] }

// BeginWrite returns the writable region of the arena.
func (b *Buffer) BeginWrite() []byte { return b.buf[b.writePos:] }

// HasRead advances the read cursor by n bytes.
func (b *Buffer) HasRead(n int) {
	if n > b.Readable() {
		panic("ringbuf: HasRead advances past writePos")
	}
	b.readPos += n
}

// HasReadUntil advances the read cursor up to (but not past) the given
// absolute offset into the arena, typically the index just past a CRLF
// terminator located by the caller.
func (b *Buffer) HasReadUntil(end int) {
	if end < b.readPos {
		panic("ringbuf: HasReadUntil before readPos")
	}
	b.HasRead(end - b.readPos)
}

// HasWritten advances the write cursor by n bytes.
func (b *Buffer) HasWritten(n int) { b.writePos += n }

// Reset clears both cursors, discarding all buffered content.
func (b *Buffer) Reset() {
	b.readPos = 0
	b.writePos = 0
}

// ResetToString drains the readable region into a string and resets the
// buffer.
func (b *Buffer) ResetToString() string {
	s := string(b.BeginRead())
	b.Reset()
	return s
}

// EnsureWritable guarantees at least n writable bytes, compacting the
// existing readable region to offset 0 first, and only growing the
// underlying array if compaction alone isn't enough.
func (b *Buffer) EnsureWritable(n int) {
	if b.Writable() >= n {
		return
	}
	if len(b.buf)-b.Readable() >= n {
		readable := b.Readable()
		copy(b.buf, b.buf[b.readPos:b.writePos])
		b.readPos = 0
		b.writePos = readable
		return
	}
	grown := make([]byte, b.writePos+n+1)
	copy(grown, b.buf[:b.writePos])
	b.buf = grown
}

// Append copies p into the writable region, growing as necessary.
func (b *Buffer) Append(p []byte) {
	b.EnsureWritable(len(p))
	n := copy(b.BeginWrite(), p)
	b.HasWritten(n)
}

// AppendString is a convenience wrapper around Append for string literals,
// the common case when assembling response headers.
func (b *Buffer) AppendString(s string) { b.Append([]byte(s)) }

// AppendBuffer copies another buffer's readable region into this one.
func (b *Buffer) AppendBuffer(other *Buffer) { b.Append(other.BeginRead()) }

// ReadFromFD performs a two-segment gather-read: segment 0 is the arena's
// current writable region, segment 1 is a scratch buffer. If the kernel
// returns no more than the writable capacity, the write cursor simply
// advances; otherwise the arena absorbs the overflow via Append, which
// triggers EnsureWritable's compact-then-grow path. This bounds the syscall
// count to one per call regardless of how much data is ready.
func (b *Buffer) ReadFromFD(fd int) (int, error) {
	scratch := make([]byte, scratchSize)
	writable := b.Writable()
	iov := [][]byte{b.BeginWrite(), scratch}

	n, err := unix.Readv(fd, iov)
	if err != nil {
		return n, err
	}
	if n <= writable {
		b.writePos += n
	} else {
		b.writePos = len(b.buf)
		b.Append(scratch[:n-writable])
	}
	return n, nil
}

// WriteToFD writes the entire readable region to fd in a single syscall,
// advancing the read cursor by however much was actually written.
func (b *Buffer) WriteToFD(fd int) (int, error) {
	n, err := unix.Write(fd, b.BeginRead())
	if err != nil {
		return n, err
	}
	b.readPos += n
	return n, nil
}
