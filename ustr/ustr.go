// Package ustr is the kernel's path/string type: a byte slice with no
// hidden allocation surprises, usable both in-kernel and when a path
// has been copied in from a user address space one page at a time.
package ustr

import "strings"

// Ustr is an immutable-by-convention path or name.
type Ustr []uint8

// MaxPathLen and MaxNameLen are the VFS path-rule limits (spec.md
// §4.9: "maximum path length 4096; maximum name length 256").
const (
	MaxPathLen = 4096
	MaxNameLen = 256
)

// MkUstr returns an empty Ustr.
func MkUstr() Ustr { return Ustr{} }

// MkUstrRoot returns "/".
func MkUstrRoot() Ustr { return Ustr("/") }

// MkUstrDot returns ".".
func MkUstrDot() Ustr { return Ustr(".") }

// DotDot is a reusable Ustr containing "..".
var DotDot = Ustr{'.', '.'}

// FromString builds a Ustr from a Go string.
func FromString(s string) Ustr { return Ustr(s) }

// MkUstrSlice truncates buf at its first NUL byte, the shape a path
// copied in from a user C string takes.
func MkUstrSlice(buf []uint8) Ustr {
	for i, b := range buf {
		if b == 0 {
			return buf[:i]
		}
	}
	return buf
}

// Eq reports whether us and s contain identical bytes.
func (us Ustr) Eq(s Ustr) bool {
	if len(us) != len(s) {
		return false
	}
	for i, v := range us {
		if v != s[i] {
			return false
		}
	}
	return true
}

// Isdot reports whether us is ".".
func (us Ustr) Isdot() bool { return len(us) == 1 && us[0] == '.' }

// Isdotdot reports whether us is "..".
func (us Ustr) Isdotdot() bool { return len(us) == 2 && us[0] == '.' && us[1] == '.' }

// IsAbsolute reports whether us begins with '/'.
func (us Ustr) IsAbsolute() bool { return len(us) > 0 && us[0] == '/' }

// Extend appends '/' + p, returning a new Ustr (does not mutate us).
func (us Ustr) Extend(p Ustr) Ustr {
	tmp := make(Ustr, 0, len(us)+1+len(p))
	tmp = append(tmp, us...)
	tmp = append(tmp, '/')
	tmp = append(tmp, p...)
	return tmp
}

// ExtendStr is Extend with a Go string component.
func (us Ustr) ExtendStr(p string) Ustr { return us.Extend(Ustr(p)) }

// String renders us as a Go string.
func (us Ustr) String() string { return string(us) }

// Components splits an absolute path into its non-empty components,
// per spec.md §4.9 ("components separated by '/'; empty component =
// error"). It returns an error boolean for malformed paths instead of
// silently dropping empties, so callers can surface ENOENT/EINVAL
// precisely.
func (us Ustr) Components() ([]Ustr, bool) {
	if !us.IsAbsolute() {
		return nil, false
	}
	if len(us) > MaxPathLen {
		return nil, false
	}
	s := string(us)
	parts := strings.Split(s, "/")
	var out []Ustr
	for i, p := range parts {
		if p == "" {
			// leading slash produces one empty component at i==0;
			// a trailing slash produces one at the end — both are
			// tolerated. An empty component anywhere else is an error.
			if i == 0 || i == len(parts)-1 {
				continue
			}
			return nil, false
		}
		if len(p) > MaxNameLen {
			return nil, false
		}
		out = append(out, Ustr(p))
	}
	return out, true
}
