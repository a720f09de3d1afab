// Package stat holds the stat block carried by every VFS tnode
// (spec.md §3 Tnode: "the stat block (dev id, ino id, mode,
// timestamps, size)"). Grounded on biscuit/src/stat/stat.go's
// Stat_t, generalized from the teacher's write-only accessor shape
// (Wdev/Wino/Wmode/...) into a plain value struct, since spec.md
// names the fields as data, not as a wire-packing target for a
// userspace stat(2) ABI.
package stat

// Stat mirrors a tnode's stat block (spec.md §3 Tnode).
type Stat struct {
	Dev     uint64
	Ino     uint64
	Mode    uint32
	UID     uint32
	Size    uint64
	MTimeNs uint64
}

// Blocks reports the number of 512-byte blocks Size occupies, the
// same rounding the teacher's on-disk filesystems use for st_blocks.
func (s Stat) Blocks() uint64 { return (s.Size + 511) / 512 }
