package fileops

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestExpandPath(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skipf("no home directory: %v", err)
	}

	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"home shortcut", "~/docs", filepath.Join(home, "docs")},
		{"bare tilde", "~", home},
		{"absolute untouched", "/tmp/x", "/tmp/x"},
		{"relative untouched", "x/y", "x/y"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ExpandPath(tt.input); got != tt.expected {
				t.Errorf("ExpandPath(%q) = %q, want %q", tt.input, got, tt.expected)
			}
		})
	}
}

func TestNormalizeAbs(t *testing.T) {
	if _, err := NormalizeAbs(""); err == nil {
		t.Error("expected error for empty path")
	}
	got, err := NormalizeAbs("/tmp/a/../b")
	if err != nil {
		t.Fatalf("NormalizeAbs failed: %v", err)
	}
	if got != "/tmp/b" {
		t.Errorf("expected /tmp/b, got %q", got)
	}
}

func TestIsWithin(t *testing.T) {
	tests := []struct {
		path, dir string
		want      bool
	}{
		{"/ws/a.txt", "/ws", true},
		{"/ws", "/ws", true},
		{"/ws/sub/deep/x", "/ws", true},
		{"/wsother/a.txt", "/ws", false},
		{"/other", "/ws", false},
		{"/", "/ws", false},
	}
	for _, tt := range tests {
		if got := IsWithin(tt.path, tt.dir); got != tt.want {
			t.Errorf("IsWithin(%q, %q) = %v, want %v", tt.path, tt.dir, got, tt.want)
		}
	}
}

func TestAtomicWriteFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out.txt")

	if err := AtomicWriteFile(path, []byte("first"), 0o644); err != nil {
		t.Fatalf("AtomicWriteFile failed: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil || string(data) != "first" {
		t.Fatalf("unexpected content %q err %v", data, err)
	}

	// Overwrite goes through rename, not truncate-in-place.
	if err := AtomicWriteFile(path, []byte("second"), 0o644); err != nil {
		t.Fatalf("AtomicWriteFile overwrite failed: %v", err)
	}
	data, _ = os.ReadFile(path)
	if string(data) != "second" {
		t.Errorf("expected 'second', got %q", data)
	}

	// No temp files left behind.
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	for _, e := range entries {
		if strings.Contains(e.Name(), ".tmp-") {
			t.Errorf("leftover temp file: %s", e.Name())
		}
	}
}

func TestResolveExisting(t *testing.T) {
	dir := t.TempDir()
	resolvedDir, _ := filepath.EvalSymlinks(dir)

	t.Run("missing file resolves through parent", func(t *testing.T) {
		got, err := ResolveExisting(filepath.Join(dir, "new.txt"))
		if err != nil {
			t.Fatalf("ResolveExisting failed: %v", err)
		}
		if got != filepath.Join(resolvedDir, "new.txt") {
			t.Errorf("unexpected resolution: %q", got)
		}
	})

	t.Run("missing parent fails", func(t *testing.T) {
		if _, err := ResolveExisting(filepath.Join(dir, "no", "new.txt")); err == nil {
			t.Error("expected error for missing parent")
		}
	})
}
