// Package ttyfs backs /dev/tty (spec.md §4.9 TTYFS): "owns per-
// instance input and output ring buffers of 4096 bytes... backspace
// is accepted only while the input ring has at least one consumable
// character; on newline the echo flushes and the cursor hides; write
// renders directly to the terminal and flushes." The blocking half of
// spec.md's "read blocks on the event bus for KeyPressed events" is
// implemented one layer up in syscall_ (spec.md §4.11 syscall 3:
// "from stdin: subscribe to KeyPressed for one byte"), which calls
// PushKey here once a scancode/ASCII byte has arrived; FS.Read itself
// is a non-blocking drain of whatever PushKey has already buffered,
// matching pipefs's non-blocking Read shape.
//
// The backspace line-editing window follows DESIGN.md's Open Question
// decision: backspace is accepted only for the current line (bytes
// since the last newline flush), not spec.md §9's ambiguous
// "TTY_BUFFER_SIZE/2" heuristic.
package ttyfs

import (
	"hankernel/defs"
	"hankernel/ring"
	"hankernel/ustr"
	"hankernel/vfs"
)

// BufferSize is the fixed input/output ring capacity (spec.md §4.9).
const BufferSize = 4096

const (
	backspace = 0x08
	del       = 0x7f
	newline   = '\n'
)

// FS is one TTY instance; a kernel typically mounts exactly one at
// /dev/tty.
type FS struct {
	input, output *ring.Buffer
	lineLen       int // bytes buffered in input since the last newline flush
	sink          func([]byte)
}

// New allocates a TTY with empty input/output rings.
func New() *FS {
	return &FS{input: ring.New(BufferSize), output: ring.New(BufferSize)}
}

// SetSink installs the external terminal/serial driver (out of scope
// per spec.md §1) that Write flushes rendered bytes to.
func (f *FS) SetSink(sink func([]byte)) { f.sink = sink }

func (f *FS) Name() string      { return "ttyfs" }
func (f *FS) IsTemporary() bool { return true }

func (f *FS) Mount(device *vfs.Inode) (*vfs.Inode, defs.Err_t) {
	return &vfs.Inode{Type: vfs.Mountpoint, FS: f}, 0
}
func (f *FS) Open(inode *vfs.Inode, path ustr.Ustr) defs.Err_t { return 0 }
func (f *FS) MkNode(parent *vfs.Inode, name ustr.Ustr, kind vfs.NodeType) (*vfs.Inode, defs.Err_t) {
	return nil, defs.ToErrno(defs.KindUnsupported)
}
func (f *FS) RmNode(parent *vfs.Inode, name ustr.Ustr) defs.Err_t { return 0 }

// PushKey is called by the keyboard ISR (out of scope per spec.md §1)
// once it has translated a scancode into an ASCII byte, via the
// event-bus KeyPressed parameter. It implements the line-editing
// policy: backspace/DEL removes the last buffered, unflushed
// character and echoes a backspace to output; newline echoes and
// flushes the line; anything else is buffered and echoed.
func (f *FS) PushKey(b byte) {
	switch b {
	case backspace, del:
		if f.lineLen == 0 {
			return
		}
		if c, ok := f.input.UnreadLast(); ok {
			_ = c
			f.lineLen--
			f.output.Write([]byte{backspace, ' ', backspace})
		}
	case newline:
		f.input.Write([]byte{newline})
		f.output.Write([]byte{newline})
		f.lineLen = 0
		f.flush()
	default:
		if f.input.Write([]byte{b}) == 1 {
			f.lineLen++
			f.output.Write([]byte{b})
		}
	}
}

func (f *FS) flush() {
	if f.sink == nil || f.output.Empty() {
		return
	}
	buf := make([]byte, f.output.Len())
	n := f.output.Read(buf)
	f.sink(buf[:n])
}

// Read drains up to len(buf) bytes already pushed by PushKey,
// returning 0 if nothing is buffered (spec.md §7: "read on stdin
// returns 0 when interrupted without data" — the same non-blocking
// drain covers both cases; the caller decides whether to retry by
// subscribing to another KeyPressed event).
func (f *FS) Read(inode *vfs.Inode, buf []byte, off int64) (int, defs.Err_t) {
	return f.input.Read(buf), 0
}

// Write renders buf directly to the terminal and flushes (spec.md
// §4.9).
func (f *FS) Write(inode *vfs.Inode, buf []byte, off int64) (int, defs.Err_t) {
	n := f.output.Write(buf)
	f.flush()
	return n, 0
}

func (f *FS) Sync(inode *vfs.Inode) defs.Err_t                    { return 0 }
func (f *FS) Refresh(inode *vfs.Inode) defs.Err_t                 { return 0 }
func (f *FS) GetDent(inode *vfs.Inode, idx int) (string, vfs.NodeType, bool)    { return "", vfs.Invalid, false }
func (f *FS) Ioctl(inode *vfs.Inode, cmd int, arg uint64) (uint64, defs.Err_t) {
	return 0, defs.ToErrno(defs.KindUnsupported)
}
