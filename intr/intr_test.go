package intr

import "testing"

func fakeIO() (PortIO, map[uint16][]uint8) {
	written := map[uint16][]uint8{}
	state := map[uint16]uint8{}
	io := PortIO{
		Outb: func(port uint16, val uint8) {
			written[port] = append(written[port], val)
			state[port] = val
		},
		Inb: func(port uint16) uint8 { return state[port] },
	}
	return io, written
}

func TestNewRemapsPICAndMasksAllLines(t *testing.T) {
	io, written := fakeIO()
	New(io, func(string, ...any) {})

	if len(written[picMasterData]) < 3 {
		t.Fatalf("expected ICW2/ICW3/ICW4 + mask-all writes to master data port, got %v", written[picMasterData])
	}
	last := written[picMasterData][len(written[picMasterData])-1]
	if last != 0xFF {
		t.Fatalf("master PIC should end up fully masked, last write = %#x", last)
	}
}

func TestRegisterAndDispatchInvokesHandler(t *testing.T) {
	io, _ := fakeIO()
	d := New(io, func(string, ...any) { t.Fatal("panicFn should not fire for a registered vector") })

	var gotVector uint8
	var gotErr uint64
	d.Register(14, func(v uint8, e uint64) { gotVector, gotErr = v, e })

	d.Dispatch(14, 0x4)
	if gotVector != 14 || gotErr != 0x4 {
		t.Fatalf("handler got (%d,%#x), want (14,0x4)", gotVector, gotErr)
	}
}

func TestDispatchSendsEOIForIRQ(t *testing.T) {
	io, written := fakeIO()
	d := New(io, func(string, ...any) {})
	d.Register(MasterBase+1, func(uint8, uint64) {})

	before := len(written[picMasterCmd])
	d.Dispatch(MasterBase+1, 0)
	if len(written[picMasterCmd]) != before+1 {
		t.Fatal("expected one EOI write to the master command port")
	}
	if written[picMasterCmd][len(written[picMasterCmd])-1] != picEOI {
		t.Fatal("EOI byte mismatch")
	}
}

func TestDispatchSendsSlaveEOIForHighIRQ(t *testing.T) {
	io, written := fakeIO()
	d := New(io, func(string, ...any) {})
	d.Register(SlaveBase+2, func(uint8, uint64) {})

	d.Dispatch(SlaveBase+2, 0)
	if len(written[picSlaveCmd]) == 0 {
		t.Fatal("expected an EOI write to the slave command port for a vector >= SlaveBase")
	}
}

func TestSpuriousIRQ7Dropped(t *testing.T) {
	io, written := fakeIO()
	d := New(io, func(string, ...any) { t.Fatal("spurious IRQ7 must not panic") })
	before := len(written[picMasterCmd])
	d.Dispatch(MasterBase+7, 0)
	if len(written[picMasterCmd]) != before {
		t.Fatal("spurious IRQ7 must not send EOI")
	}
}

func TestUnhandledExceptionPanics(t *testing.T) {
	io, _ := fakeIO()
	var msg string
	d := New(io, func(format string, args ...any) { msg = format })
	d.Dispatch(13, 0)
	if msg == "" {
		t.Fatal("unhandled #GP should invoke panicFn")
	}
}

func TestAllocHandsOutIncreasingVectors(t *testing.T) {
	io, _ := fakeIO()
	d := New(io, func(string, ...any) {})
	v1 := d.Alloc()
	v2 := d.Alloc()
	if v1 != FirstDynamicVector || v2 != FirstDynamicVector+1 {
		t.Fatalf("got %#x,%#x", v1, v2)
	}
}

func TestSetMaskTogglesCorrectLine(t *testing.T) {
	io, written := fakeIO()
	d := New(io, func(string, ...any) {})
	// New leaves both PICs fully masked (0xFF); unmasking IRQ1 clears
	// bit 1 on the master and unmasking IRQ9 clears bit 1 on the slave.
	d.SetMask(1, false)
	d.SetMask(9, false)
	master := written[picMasterData]
	slave := written[picSlaveData]
	if got := master[len(master)-1]; got != 0xFD {
		t.Fatalf("master mask = %#x, want 0xfd", got)
	}
	if got := slave[len(slave)-1]; got != 0xFD {
		t.Fatalf("slave mask = %#x, want 0xfd", got)
	}
}
