package sink

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestFileSink_Write(t *testing.T) {
	dir := t.TempDir()
	s, err := NewFileSink(filepath.Join(dir, "out"))
	if err != nil {
		t.Fatal(err)
	}

	ctx := context.Background()
	if err := s.Write(ctx, "chapter1/job-1.mp3", []byte("v1")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := s.Write(ctx, "chapter1/job-1.mp3", []byte("v2")); err != nil {
		t.Fatalf("overwrite: %v", err)
	}

	path := filepath.Join(dir, "out", "chapter1", "job-1.mp3")
	got, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "v2" {
		t.Errorf("content = %q, want v2", got)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if perm := info.Mode().Perm(); perm != filePerm {
		t.Errorf("perm = %o, want %o", perm, filePerm)
	}

	entries, _ := os.ReadDir(filepath.Join(dir, "out", "chapter1"))
	if len(entries) != 1 {
		t.Errorf("temp files left behind: %v", entries)
	}
}

func TestFileSink_RejectsEscapingKeys(t *testing.T) {
	s, err := NewFileSink(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}

	for _, key := range []string{"", "../x.mp3", "/etc/passwd", "a/../../x"} {
		if err := s.Write(context.Background(), key, []byte("x")); !errors.Is(err, ErrUnsafeKey) {
			t.Errorf("Write(%q) err = %v, want ErrUnsafeKey", key, err)
		}
	}
}
