// Package ring implements the fixed-capacity byte ring buffer used
// throughout the kernel: the klog formatter, ttyfs's input/output
// buffers, and pipefs's pipe backing all need the same "read until
// empty, write until full" mechanics. Grounded on the teacher's
// circbuf.Circbuf_t, generalized to not require a physical-page
// allocator (our callers own their own backing slice).
package ring

// Buffer is a single-producer/single-consumer byte ring. It is not
// safe for concurrent use; callers serialize access with their own
// lock, the same discipline circbuf.Circbuf_t documents ("not safe for
// concurrent use").
type Buffer struct {
	buf        []uint8
	head, tail int
	full       bool
}

// New allocates a ring buffer with the given capacity in bytes.
func New(capacity int) *Buffer {
	if capacity <= 0 {
		panic("ring: bad capacity")
	}
	return &Buffer{buf: make([]uint8, capacity)}
}

// Cap returns the buffer's capacity.
func (b *Buffer) Cap() int { return len(b.buf) }

// Len returns the number of unread bytes currently buffered.
func (b *Buffer) Len() int {
	if b.full {
		return len(b.buf)
	}
	if b.tail >= b.head {
		return b.tail - b.head
	}
	return len(b.buf) - b.head + b.tail
}

// Free returns the number of bytes that can still be written.
func (b *Buffer) Free() int { return len(b.buf) - b.Len() }

// Empty reports whether there is nothing to read.
func (b *Buffer) Empty() bool { return !b.full && b.head == b.tail }

// Write appends up to len(p) bytes, truncating at capacity. It returns
// the number of bytes actually written.
func (b *Buffer) Write(p []uint8) int {
	n := 0
	for _, c := range p {
		if b.Free() == 0 {
			break
		}
		b.buf[b.tail] = c
		b.tail = (b.tail + 1) % len(b.buf)
		if b.tail == b.head {
			b.full = true
		}
		n++
	}
	return n
}

// Read drains up to len(p) bytes into p, returning the count read.
func (b *Buffer) Read(p []uint8) int {
	n := 0
	for n < len(p) && !b.Empty() {
		p[n] = b.buf[b.head]
		b.head = (b.head + 1) % len(b.buf)
		b.full = false
		n++
	}
	return n
}

// UnreadLast removes the most recently written byte, if any, and
// returns it with ok=true. Used by ttyfs to implement backspace
// line-editing (see DESIGN.md's Open Question decision on TTY
// backspace semantics).
func (b *Buffer) UnreadLast() (uint8, bool) {
	if b.Empty() {
		return 0, false
	}
	prev := (b.tail - 1 + len(b.buf)) % len(b.buf)
	c := b.buf[prev]
	b.tail = prev
	b.full = false
	return c, true
}
