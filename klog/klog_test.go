package klog

import (
	"strings"
	"testing"
)

func TestLogfAndDump(t *testing.T) {
	l := New(256)
	l.Infof("pmm: reserved %d pages", 16384)
	l.Warnf("spurious irq7")
	out := string(l.Dump())
	if !strings.Contains(out, "INFO") || !strings.Contains(out, "16384") {
		t.Fatalf("missing info line: %q", out)
	}
	if !strings.Contains(out, "WARN") {
		t.Fatalf("missing warn line: %q", out)
	}
}

func TestSink(t *testing.T) {
	l := New(256)
	var got []string
	l.SetSink(func(s string) { got = append(got, s) })
	l.Infof("hello")
	if len(got) != 1 {
		t.Fatalf("sink not called: %v", got)
	}
}

func TestDumpIsNonDestructive(t *testing.T) {
	l := New(256)
	l.Infof("x")
	a := l.Dump()
	b := l.Dump()
	if string(a) != string(b) {
		t.Fatalf("dump mutated ring: %q vs %q", a, b)
	}
}
