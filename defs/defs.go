// Package defs holds the error-code and identifier types shared across
// every kernel subsystem, mirroring the teacher's own defs package: a
// small, dependency-free leaf that everything else imports.
package defs

// Err_t is a negative-valued errno, returned by value from every VFS,
// scheduler and syscall-facing API. A zero value means success.
type Err_t int

// Tid_t identifies a task. Valid tids are in [1, MaxTid]; zero is never
// assigned and is used as a sentinel "no parent"/"no task" value.
type Tid_t uint16

// MaxTid is the largest tid the task factory will ever hand out (§3:
// "tid (1..=UINT16_MAX-1)").
const MaxTid = ^Tid_t(0) - 1

// Numeric errno values exposed to userspace via rdx (§7/§6). The
// mapping is fixed by the ABI, not derived from any particular libc.
const (
	EDOM    Err_t = 1
	EACCES  Err_t = 1002
	EBADF   Err_t = 1008
	EEXIST  Err_t = 1019
	EFAULT  Err_t = 1022
	EINVAL  Err_t = 1026
	EMFILE  Err_t = 1032
	ENOENT  Err_t = 1043
	ENOMEM  Err_t = 1048
	ENOSYS  Err_t = 1051
	ENOTDIR Err_t = 1053
	ERANGE  Err_t = 1060
	EAGAIN  Err_t = 1061
	ENAMETOOLONG Err_t = 1063
	ENOHEAP Err_t = 1070
	EIO     Err_t = 1071
)

// Kind enumerates the abstract error classes named in spec.md §7; it is
// how internal code reasons about failures before translating the
// final result into a numeric Err_t at the syscall boundary.
type Kind int

const (
	KindNone Kind = iota
	KindNotFound
	KindAlreadyExists
	KindBadHandle
	KindPermissionDenied
	KindInvalid
	KindWouldBlock
	KindOutOfMemory
	KindCorruptImage
	KindIOFailure
	KindUnsupported
)

// errnoOf is the fixed Kind -> errno mapping used by ToErrno.
var errnoOf = map[Kind]Err_t{
	KindNotFound:         ENOENT,
	KindAlreadyExists:    EEXIST,
	KindBadHandle:        EBADF,
	KindPermissionDenied: EACCES,
	KindInvalid:          EINVAL,
	KindWouldBlock:       EAGAIN,
	KindOutOfMemory:      ENOMEM,
	KindCorruptImage:     EIO,
	KindIOFailure:        EIO,
	KindUnsupported:      ENOSYS,
}

// ToErrno translates an abstract error Kind into the numeric errno
// written to rdx on syscall return. PMM exhaustion (KindOutOfMemory) is
// never expected to reach here in practice — spec.md §7 says it is
// fatal — but the mapping exists so callers that do choose to surface
// it (rather than panic) get a sane value.
func ToErrno(k Kind) Err_t {
	if k == KindNone {
		return 0
	}
	if e, ok := errnoOf[k]; ok {
		return -e
	}
	return -EINVAL
}

// Mode flags for VFS path resolution (spec.md §4.9 path_to_node).
type Mode int

const (
	ModeRead Mode = 1 << iota
	ModeWrite
	ModeCreate
	ModeErrOnExist
)

// OpenMode enumerates the mode a FileDesc was opened with (spec.md §3).
type OpenMode int

const (
	ORead OpenMode = iota
	OWrite
	OReadWrite
)

// Whence values for seek (spec.md §4.9).
const (
	SeekSet = 0
	SeekCur = 1
	SeekEnd = 2
)
