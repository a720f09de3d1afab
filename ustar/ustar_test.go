package ustar

import (
	"bytes"
	"testing"
)

func TestRoundTrip(t *testing.T) {
	in := []Entry{
		{Name: "bin/", Type: TypeFolder, Mode: 0755, MTimeSec: 1700000000},
		{Name: "bin/init", Type: TypeFile, Mode: 0755, MTimeSec: 1700000000, Data: []byte("hello world")},
		{Name: "bin/link", Type: TypeSymlink, Mode: 0777, MTimeSec: 1700000000, Linkname: "init"},
	}
	archive := Write(in)

	out, err := Read(archive)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if len(out) != len(in) {
		t.Fatalf("got %d entries, want %d", len(out), len(in))
	}
	for i, want := range in {
		got := out[i]
		if got.Name != want.Name || got.Type != want.Type || got.MTimeSec != want.MTimeSec {
			t.Fatalf("entry %d = %+v, want %+v", i, got, want)
		}
		if want.Type == TypeFile && !bytes.Equal(got.Data, want.Data) {
			t.Fatalf("entry %d data = %q, want %q", i, got.Data, want.Data)
		}
		if want.Type == TypeSymlink && got.Linkname != want.Linkname {
			t.Fatalf("entry %d linkname = %q, want %q", i, got.Linkname, want.Linkname)
		}
	}
}

func TestReadEmptyArchiveIsEmpty(t *testing.T) {
	archive := Write(nil)
	out, err := Read(archive)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if len(out) != 0 {
		t.Fatalf("got %d entries, want 0", len(out))
	}
}

func TestOctalRoundTrip(t *testing.T) {
	got := oct2bin(bin2oct(511, 8))
	if got != 511 {
		t.Fatalf("oct2bin(bin2oct(511)) = %d, want 511", got)
	}
}
