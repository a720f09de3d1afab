package vmm

import "testing"

func TestCopyInThenCopyOutRoundTrips(t *testing.T) {
	v := newTestVMM(t)
	vaddr := uint64(0x5000_0000)
	paddr := v.alloc.Get(1, 0)
	v.Map(nil, vaddr, paddr, 1, UserMode, false)

	want := []byte("hello, userspace")
	if !v.CopyIn(nil, vaddr+10, want) {
		t.Fatal("CopyIn should succeed into a mapped page")
	}

	got := make([]byte, len(want))
	if !v.CopyOut(nil, vaddr+10, got) {
		t.Fatal("CopyOut should succeed from a mapped page")
	}
	if string(got) != string(want) {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestCopyOutFailsOnUnmappedAddress(t *testing.T) {
	v := newTestVMM(t)
	buf := make([]byte, 8)
	if v.CopyOut(nil, 0x9999_0000, buf) {
		t.Fatal("CopyOut should fail for an unmapped address")
	}
}

func TestCopyCrossesPageBoundary(t *testing.T) {
	v := newTestVMM(t)
	vaddr := uint64(0x6000_0000)
	p0 := v.alloc.Get(1, 0)
	p1 := v.alloc.Get(1, 0)
	v.Map(nil, vaddr, p0, 1, UserMode, false)
	v.Map(nil, vaddr+pageSize, p1, 1, UserMode, false)

	want := make([]byte, 32)
	for i := range want {
		want[i] = byte(i)
	}
	start := vaddr + pageSize - 16
	if !v.CopyIn(nil, start, want) {
		t.Fatal("CopyIn across a page boundary should succeed")
	}
	got := make([]byte, 32)
	if !v.CopyOut(nil, start, got) {
		t.Fatal("CopyOut across a page boundary should succeed")
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("byte %d = %d, want %d", i, got[i], want[i])
		}
	}
}

func TestReadCStringStopsAtNUL(t *testing.T) {
	v := newTestVMM(t)
	vaddr := uint64(0x7000_0000)
	paddr := v.alloc.Get(1, 0)
	v.Map(nil, vaddr, paddr, 1, UserMode, false)

	payload := append([]byte("/bin/init"), 0, 'X')
	if !v.CopyIn(nil, vaddr, payload) {
		t.Fatal("CopyIn should succeed")
	}
	s, ok := v.ReadCString(nil, vaddr, 64)
	if !ok {
		t.Fatal("ReadCString should find the NUL terminator")
	}
	if s != "/bin/init" {
		t.Fatalf("ReadCString = %q, want /bin/init", s)
	}
}

func TestReadCStringFailsWithoutTerminator(t *testing.T) {
	v := newTestVMM(t)
	vaddr := uint64(0x8000_0000)
	paddr := v.alloc.Get(1, 0)
	v.Map(nil, vaddr, paddr, 1, UserMode, false)

	payload := make([]byte, 8)
	for i := range payload {
		payload[i] = 'a'
	}
	if !v.CopyIn(nil, vaddr, payload) {
		t.Fatal("CopyIn should succeed")
	}
	if _, ok := v.ReadCString(nil, vaddr, 4); ok {
		t.Fatal("ReadCString should fail when no NUL appears within maxLen")
	}
}
