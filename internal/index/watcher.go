package index

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"salespilot/internal/library"
	"salespilot/internal/logging"
)

// Watcher reloads the prompt library and rebuilds the index when the library
// file changes on disk. Rebuilds go through the index's atomic swap, so
// in-flight searches keep a consistent view.
type Watcher struct {
	index   *CandidateIndex
	path    string
	watcher *fsnotify.Watcher
	done    chan struct{}
}

// debounce window: editors fire multiple events per save.
const rebuildDebounce = 500 * time.Millisecond

// Watch starts watching the library file. The watch runs until ctx is
// cancelled or Close is called.
func Watch(ctx context.Context, ci *CandidateIndex, path string) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}
	// Watch the directory: many editors replace files on save, which drops
	// a watch registered on the file itself.
	if err := fw.Add(filepath.Dir(path)); err != nil {
		fw.Close()
		return nil, fmt.Errorf("failed to watch %s: %w", path, err)
	}

	w := &Watcher{
		index:   ci,
		path:    path,
		watcher: fw,
		done:    make(chan struct{}),
	}
	go w.run(ctx)
	return w, nil
}

func (w *Watcher) run(ctx context.Context) {
	defer close(w.done)
	log := logging.Get(logging.CategoryIndex)

	var timer *time.Timer
	var timerC <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(w.path) {
				continue
			}
			if !event.Op.Has(fsnotify.Write) && !event.Op.Has(fsnotify.Create) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(rebuildDebounce)
			} else {
				timer.Reset(rebuildDebounce)
			}
			timerC = timer.C
		case <-timerC:
			timerC = nil
			w.reload(ctx, log)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			log.Warn("library watcher error", zap.Error(err))
		}
	}
}

func (w *Watcher) reload(ctx context.Context, log *zap.Logger) {
	lib, err := library.Load(w.path)
	if err != nil {
		// Invalid libraries never reach the index; the previous snapshot
		// stays live.
		log.Error("library reload rejected", zap.String("path", w.path), zap.Error(err))
		return
	}
	if err := w.index.BuildFromLibrary(ctx, lib); err != nil {
		log.Error("index rebuild failed", zap.String("path", w.path), zap.Error(err))
		return
	}
	log.Info("index rebuilt after library change",
		zap.String("path", w.path), zap.Int("records", lib.Len()))
}

// Close stops the watcher and waits for the watch loop to exit.
func (w *Watcher) Close() error {
	err := w.watcher.Close()
	<-w.done
	return err
}
