package fat32

import (
	"strings"
	"unicode/utf16"

	"hankernel/vfs"
)

// lfnEntry mirrors fat_lfn_entry_t's 32-byte layout.
type lfnEntry struct {
	seq      byte
	name1    [5]uint16
	attr     byte
	typ      byte
	checksum byte
	name2    [6]uint16
	name3    [2]uint16
}

func parseLFNEntry(raw []byte) lfnEntry {
	var e lfnEntry
	e.seq = raw[0]
	for i := 0; i < 5; i++ {
		e.name1[i] = uint16(raw[1+i*2]) | uint16(raw[2+i*2])<<8
	}
	e.attr = raw[11]
	e.typ = raw[12]
	e.checksum = raw[13]
	for i := 0; i < 6; i++ {
		e.name2[i] = uint16(raw[14+i*2]) | uint16(raw[15+i*2])<<8
	}
	for i := 0; i < 2; i++ {
		e.name3[i] = uint16(raw[28+i*2]) | uint16(raw[29+i*2])<<8
	}
	return e
}

// lfnChars extracts the up-to-13 UCS-2 code units an LFN entry
// carries, stopping at the NUL/0xFFFF padding terminator (spec.md §6:
// "long file names are assembled from LFN entries in (3,1)(2,0)(1,0)
// order").
func lfnChars(e lfnEntry) []uint16 {
	var out []uint16
	for _, u := range append(append(append([]uint16{}, e.name1[:]...), e.name2[:]...), e.name3[:]...) {
		if u == 0x0000 || u == 0xFFFF {
			break
		}
		out = append(out, u)
	}
	return out
}

// dirRecord is one short entry yielded by iterDir, which walks the
// 32-byte records of a directory's cluster chain, assembling LFN
// sequences in reverse arrival order (the on-disk order is highest
// sequence number first, original_source's fat32_get_long_filename:
// "(3,1)(2,0)(1,0)") and pairing the completed name with the
// following short entry.
type dirRecord struct {
	name       string
	short      [11]byte
	entry      dirEntry
	cluster    uint32 // cluster this 32-byte record lives in
	index      int    // 32-byte-entry index within that cluster
}

func (f *FS) iterDir(startCluster uint32, visit func(dirRecord) bool) error {
	var pending []lfnEntry

	cluster := startCluster
	for cluster != 0 {
		data, err := f.readCluster(cluster)
		if err != nil {
			return err
		}
		perCluster := len(data) / 32
		for i := 0; i < perCluster; i++ {
			raw := data[i*32 : i*32+32]
			if raw[0] == 0x00 {
				return nil // end of directory
			}
			if raw[0] == 0xE5 {
				pending = nil
				continue
			}
			if raw[11] == attrLongName {
				pending = append(pending, parseLFNEntry(raw))
				continue
			}

			var short [11]byte
			copy(short[:], raw[0:11])
			var de dirEntry
			copy(de.NameExt[:], raw[0:11])
			de.Attr = raw[11]
			de.CreateTime = uint16(raw[14]) | uint16(raw[15])<<8
			de.CreateDate = uint16(raw[16]) | uint16(raw[17])<<8
			de.ClusterHi = uint16(raw[20]) | uint16(raw[21])<<8
			de.ModifyTime = uint16(raw[22]) | uint16(raw[23])<<8
			de.ModifyDate = uint16(raw[24]) | uint16(raw[25])<<8
			de.ClusterLo = uint16(raw[26]) | uint16(raw[27])<<8
			de.Size = uint32(raw[28]) | uint32(raw[29])<<8 | uint32(raw[30])<<16 | uint32(raw[31])<<24

			name := assembleLFN(pending, short)
			if name == "" {
				if s, err := decodeShortName(short); err == nil {
					name = s
				}
			}
			pending = nil

			rec := dirRecord{name: name, short: short, entry: de, cluster: cluster, index: i}
			if !visit(rec) {
				return nil
			}
		}
		cluster = f.nextCluster(cluster)
	}
	return nil
}

// assembleLFN validates the pending LFN chain's checksum against the
// short entry and, if it matches, concatenates the chain in
// ascending sequence order (the chain was collected in on-disk,
// i.e. descending, order so it is reversed here).
func assembleLFN(pending []lfnEntry, short [11]byte) string {
	if len(pending) == 0 {
		return ""
	}
	chk := shortNameChecksum(short)
	var units []uint16
	for i := len(pending) - 1; i >= 0; i-- {
		e := pending[i]
		if e.checksum != chk {
			return ""
		}
		units = append(units, lfnChars(e)...)
	}
	return strings.TrimRight(string(utf16.Decode(units)), "\x00")
}

func nodeTypeOf(attr byte) vfs.NodeType {
	if attr&attrDir != 0 {
		return vfs.Folder
	}
	return vfs.File
}
