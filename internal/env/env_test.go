package env

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

func TestPrepareIdempotent(t *testing.T) {
	var root = t.TempDir()
	var dirs = []string{
		filepath.Join(root, "logs"),
		filepath.Join(root, "models", "nested"),
		filepath.Join(root, "samples"),
	}
	for i := 0; i < 2; i++ {
		if err := Prepare(discard, dirs...); err != nil {
			t.Fatal(i, err)
		}
	}
	for _, dir := range dirs {
		var info, err = os.Stat(dir)
		if err != nil || !info.IsDir() {
			t.Error(dir, err)
		}
	}
}

func TestPrepareBlockedByFile(t *testing.T) {
	var root = t.TempDir()
	var blocker = filepath.Join(root, "logs")
	if err := os.WriteFile(blocker, nil, 0o644); err != nil {
		t.Fatal(err)
	}
	if err := Prepare(discard, filepath.Join(blocker, "run")); err == nil {
		t.Error("created a directory below a regular file")
	}
}
