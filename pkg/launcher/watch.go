package launcher

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// ChangeKind distinguishes what changed on disk, because the supervisor
// reacts differently: source changes restart the server, manifest changes
// re-run the install step first.
type ChangeKind string

const (
	// ChangeSource indicates a server source file changed.
	ChangeSource ChangeKind = "source"

	// ChangeManifest indicates the dependency manifest changed.
	ChangeManifest ChangeKind = "manifest"
)

// Change is a debounced filesystem change notification.
type Change struct {
	Kind ChangeKind
	Path string
}

// Watcher watches the server sources and the dependency manifest and emits
// debounced change notifications.
type Watcher struct {
	watcher  *fsnotify.Watcher
	manifest string
	exclude  []string
	debounce time.Duration
	logger   zerolog.Logger

	changes chan Change

	mu      sync.Mutex
	pending *time.Timer
	last    Change
}

// NewWatcher creates a watcher over the given directory trees plus the
// manifest file. Each directory is walked and every nested directory is
// registered, since the server sources live in nested packages. Hidden
// directories, __pycache__, and anything under an excluded directory are
// not watched. Only Python sources and the manifest itself trigger
// notifications.
func NewWatcher(dirs []string, manifestPath string, exclude []string, logger zerolog.Logger) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	w := &Watcher{
		watcher:  fsw,
		manifest: filepath.Clean(manifestPath),
		debounce: 300 * time.Millisecond,
		logger:   logger.With().Str("component", "watcher").Logger(),
		changes:  make(chan Change, 1),
	}
	for _, ex := range exclude {
		w.exclude = append(w.exclude, filepath.Clean(ex))
	}

	for _, dir := range dirs {
		if err := w.watchTree(dir); err != nil {
			_ = fsw.Close()
			return nil, err
		}
	}
	// Watch the manifest's directory: editors replace files on save, which
	// breaks watches on the file itself.
	if err := fsw.Add(filepath.Dir(w.manifest)); err != nil {
		_ = fsw.Close()
		return nil, err
	}

	return w, nil
}

// watchTree registers root and all directories under it.
func (w *Watcher) watchTree(root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if w.skipDir(path) {
			return filepath.SkipDir
		}
		return w.watcher.Add(path)
	})
}

// skipDir reports whether a directory is excluded from watching. Virtual
// environments are excluded so installs do not look like source changes.
func (w *Watcher) skipDir(path string) bool {
	base := filepath.Base(path)
	if base != "." && strings.HasPrefix(base, ".") {
		return true
	}
	if base == "__pycache__" || base == "site-packages" {
		return true
	}
	clean := filepath.Clean(path)
	for _, ex := range w.exclude {
		if clean == ex || strings.HasPrefix(clean, ex+string(filepath.Separator)) {
			return true
		}
	}
	return false
}

// Changes returns the channel of debounced change notifications.
func (w *Watcher) Changes() <-chan Change {
	return w.changes
}

// Run processes filesystem events until the context is cancelled.
func (w *Watcher) Run(ctx context.Context) {
	defer w.watcher.Close()

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if event.Op&fsnotify.Create != 0 {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					if !w.skipDir(event.Name) {
						if err := w.watchTree(event.Name); err != nil {
							w.logger.Warn().Err(err).Str("dir", event.Name).Msg("Failed to watch new directory")
						}
					}
					continue
				}
			}
			change, relevant := w.classify(event.Name)
			if !relevant {
				continue
			}
			w.schedule(change)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn().Err(err).Msg("Watcher error")
		}
	}
}

// classify maps a changed path to a ChangeKind.
func (w *Watcher) classify(path string) (Change, bool) {
	clean := filepath.Clean(path)
	if clean == w.manifest {
		return Change{Kind: ChangeManifest, Path: clean}, true
	}
	if strings.HasSuffix(clean, ".py") {
		return Change{Kind: ChangeSource, Path: clean}, true
	}
	return Change{}, false
}

// schedule coalesces bursts of events into a single notification. A manifest
// change wins over a source change within the same burst since it implies a
// reinstall before restart.
func (w *Watcher) schedule(change Change) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.pending != nil {
		if w.last.Kind != ChangeManifest {
			w.last = change
		}
		w.pending.Reset(w.debounce)
		return
	}

	w.last = change
	w.pending = time.AfterFunc(w.debounce, func() {
		w.mu.Lock()
		fired := w.last
		w.pending = nil
		w.mu.Unlock()

		select {
		case w.changes <- fired:
		default:
		}
	})
}
