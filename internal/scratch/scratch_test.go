package scratch

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestAcquireRelease(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "scratch")
	space, err := NewSpace(dir)
	if err != nil {
		t.Fatalf("NewSpace() error = %v", err)
	}

	f, err := space.Acquire("raw-*")
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	if space.Outstanding() != 1 {
		t.Errorf("Outstanding() = %d, want 1", space.Outstanding())
	}

	if _, err := f.Fill(strings.NewReader("first content")); err != nil {
		t.Fatalf("Fill() error = %v", err)
	}
	if _, err := f.Fill(strings.NewReader("second")); err != nil {
		t.Fatalf("Fill() error = %v", err)
	}
	data, err := f.Bytes()
	if err != nil {
		t.Fatalf("Bytes() error = %v", err)
	}
	if string(data) != "second" {
		t.Errorf("Bytes() = %q, want refilled content", data)
	}

	if err := f.Release(); err != nil {
		t.Fatalf("Release() error = %v", err)
	}
	if err := f.Release(); err != nil {
		t.Errorf("second Release() error = %v", err)
	}
	if space.Outstanding() != 0 {
		t.Errorf("Outstanding() = %d after release, want 0", space.Outstanding())
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Errorf("scratch dir has %d entries after release", len(entries))
	}
}
