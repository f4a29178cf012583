package manifest

import (
	"fmt"

	"github.com/fsnotify/fsnotify"

	"skillmeat/internal/logging"
)

// Watcher bumps a collection's generation counter whenever something
// outside this process touches collection.toml, so a long-lived caller
// (the job queue, a CLI in watch mode) notices an external edit without
// polling Generation on every operation.
type Watcher struct {
	root string
	fsw  *fsnotify.Watcher
	done chan struct{}
}

// Watch starts watching root's manifest file for external writes.
// Callers must call Close when done; the underlying fsnotify watcher and
// its goroutine are not torn down automatically.
func Watch(root string) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create manifest watcher: %w", err)
	}
	if err := fsw.Add(root); err != nil {
		fsw.Close()
		return nil, fmt.Errorf("watch collection root %s: %w", root, err)
	}

	w := &Watcher{root: root, fsw: fsw, done: make(chan struct{})}
	go w.loop()
	return w, nil
}

func (w *Watcher) loop() {
	target := manifestPath(w.root)
	log := logging.Get(logging.CategoryStore)
	for {
		select {
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if event.Name != target {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			bumpGeneration(w.root)
			log.Debug("external manifest write detected at %s, generation now %d", target, Generation(w.root))
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			log.Warn("manifest watcher error for %s: %v", w.root, err)
		case <-w.done:
			return
		}
	}
}

// Close stops the watcher and releases its file descriptor.
func (w *Watcher) Close() error {
	close(w.done)
	return w.fsw.Close()
}
