package util

import "testing"

func TestRoundupRounddown(t *testing.T) {
	cases := []struct{ v, b, up, down int }{
		{0, 4096, 0, 0},
		{1, 4096, 4096, 0},
		{4096, 4096, 4096, 4096},
		{4097, 4096, 8192, 4096},
	}
	for _, c := range cases {
		if g := Roundup(c.v, c.b); g != c.up {
			t.Errorf("Roundup(%d,%d) = %d, want %d", c.v, c.b, g, c.up)
		}
		if g := Rounddown(c.v, c.b); g != c.down {
			t.Errorf("Rounddown(%d,%d) = %d, want %d", c.v, c.b, g, c.down)
		}
	}
}

func TestReadWriten(t *testing.T) {
	buf := make([]uint8, 16)
	Writen(buf, 4, 2, 0xdeadbeef)
	if got := Readn(buf, 4, 2); got != int(uint32(0xdeadbeef)) {
		t.Fatalf("roundtrip mismatch: got %#x", got)
	}
	Writen(buf, 1, 0, 0xff)
	if got := Readn(buf, 1, 0); got != 0xff {
		t.Fatalf("byte roundtrip mismatch: got %#x", got)
	}
}

func TestMinMax(t *testing.T) {
	if Min(3, 5) != 3 || Max(3, 5) != 5 {
		t.Fatal("min/max wrong")
	}
}
