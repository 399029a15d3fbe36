package launcher

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func newTestWatcher(t *testing.T) (*Watcher, string) {
	t.Helper()

	dir := t.TempDir()
	manifestPath := filepath.Join(dir, "requirements.txt")
	if err := os.WriteFile(manifestPath, []byte("fastapi\n"), 0644); err != nil {
		t.Fatalf("failed to write manifest: %v", err)
	}

	w, err := NewWatcher([]string{dir}, manifestPath, []string{filepath.Join(dir, "venv")}, zerolog.Nop())
	if err != nil {
		t.Fatalf("failed to create watcher: %v", err)
	}
	return w, dir
}

func TestClassify(t *testing.T) {
	w, dir := newTestWatcher(t)

	cases := []struct {
		path     string
		kind     ChangeKind
		relevant bool
	}{
		{filepath.Join(dir, "requirements.txt"), ChangeManifest, true},
		{filepath.Join(dir, "run.py"), ChangeSource, true},
		{filepath.Join(dir, "sensors", "reader.py"), ChangeSource, true},
		{filepath.Join(dir, "README.md"), "", false},
		{filepath.Join(dir, "server.log"), "", false},
	}

	for _, c := range cases {
		change, relevant := w.classify(c.path)
		if relevant != c.relevant {
			t.Errorf("classify(%q): expected relevant=%v", c.path, c.relevant)
			continue
		}
		if relevant && change.Kind != c.kind {
			t.Errorf("classify(%q): expected kind %s, got %s", c.path, c.kind, change.Kind)
		}
	}
}

func TestWatcherEmitsSourceChange(t *testing.T) {
	w, dir := newTestWatcher(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	if err := os.WriteFile(filepath.Join(dir, "run.py"), []byte("print('hi')\n"), 0644); err != nil {
		t.Fatalf("failed to write source file: %v", err)
	}

	select {
	case change := <-w.Changes():
		if change.Kind != ChangeSource {
			t.Errorf("expected source change, got %s", change.Kind)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no change notification received")
	}
}

func TestWatcherEmitsNestedSourceChange(t *testing.T) {
	dir := t.TempDir()
	manifestPath := filepath.Join(dir, "requirements.txt")
	if err := os.WriteFile(manifestPath, []byte("fastapi\n"), 0644); err != nil {
		t.Fatalf("failed to write manifest: %v", err)
	}
	// Server sources live in nested packages, so the watcher must cover
	// the whole tree, not just the top level.
	nested := filepath.Join(dir, "app", "sensors")
	if err := os.MkdirAll(nested, 0755); err != nil {
		t.Fatalf("failed to create nested dir: %v", err)
	}

	w, err := NewWatcher([]string{dir}, manifestPath, nil, zerolog.Nop())
	if err != nil {
		t.Fatalf("failed to create watcher: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	if err := os.WriteFile(filepath.Join(nested, "reader.py"), []byte("pass\n"), 0644); err != nil {
		t.Fatalf("failed to write nested source file: %v", err)
	}

	select {
	case change := <-w.Changes():
		if change.Kind != ChangeSource {
			t.Errorf("expected source change, got %s", change.Kind)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no change notification for nested source file")
	}
}

func TestWatcherCoversDirectoriesCreatedWhileWatching(t *testing.T) {
	w, dir := newTestWatcher(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	newDir := filepath.Join(dir, "handlers")
	if err := os.Mkdir(newDir, 0755); err != nil {
		t.Fatalf("failed to create directory: %v", err)
	}
	// Give the watcher a moment to register the new directory.
	time.Sleep(300 * time.Millisecond)

	if err := os.WriteFile(filepath.Join(newDir, "alerts.py"), []byte("pass\n"), 0644); err != nil {
		t.Fatalf("failed to write source file: %v", err)
	}

	select {
	case change := <-w.Changes():
		if change.Kind != ChangeSource {
			t.Errorf("expected source change, got %s", change.Kind)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no change notification for file in new directory")
	}
}

func TestWatcherSkipsExcludedDirectories(t *testing.T) {
	w, dir := newTestWatcher(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	// Python files landing in the environment are installs, not edits.
	envDir := filepath.Join(dir, "venv", "lib")
	if err := os.MkdirAll(envDir, 0755); err != nil {
		t.Fatalf("failed to create env dir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(envDir, "six.py"), []byte("pass\n"), 0644); err != nil {
		t.Fatalf("failed to write file: %v", err)
	}

	select {
	case change := <-w.Changes():
		t.Errorf("unexpected notification from excluded directory: %+v", change)
	case <-time.After(time.Second):
	}
}

func TestWatcherCoalescesBurstWithManifestPriority(t *testing.T) {
	w, dir := newTestWatcher(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	// A burst touching both sources and the manifest must collapse into a
	// single manifest notification, since that implies the reinstall.
	if err := os.WriteFile(filepath.Join(dir, "run.py"), []byte("x = 1\n"), 0644); err != nil {
		t.Fatalf("failed to write source file: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "requirements.txt"), []byte("fastapi\nnumpy\n"), 0644); err != nil {
		t.Fatalf("failed to write manifest: %v", err)
	}

	select {
	case change := <-w.Changes():
		if change.Kind != ChangeManifest {
			t.Errorf("expected manifest change to win the burst, got %s", change.Kind)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no change notification received")
	}

	// No second notification for the same burst.
	select {
	case change := <-w.Changes():
		t.Errorf("unexpected second notification: %+v", change)
	case <-time.After(500 * time.Millisecond):
	}
}

func TestWatcherIgnoresIrrelevantFiles(t *testing.T) {
	w, dir := newTestWatcher(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("scratch\n"), 0644); err != nil {
		t.Fatalf("failed to write file: %v", err)
	}

	select {
	case change := <-w.Changes():
		t.Errorf("unexpected notification for irrelevant file: %+v", change)
	case <-time.After(time.Second):
	}
}
