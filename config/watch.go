package config

import (
	"log"

	"github.com/fsnotify/fsnotify"
	"github.com/pkg/errors"
)

// Watcher reloads a Document from disk whenever its backing file changes,
// so a running scanner picks up edited axis limits or timing tweaks
// without a restart.
type Watcher struct {
	path    string
	watcher *fsnotify.Watcher
	stopCh  chan struct{}
}

// Watch starts watching path and invokes onChange with the newly loaded
// Document after every write. Load errors during a reload are logged and
// skipped -- the previous, still-valid Document remains in effect.
func Watch(path string, onChange func(Document)) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, errors.Wrap(err, "config: starting file watcher")
	}
	if err := fw.Add(path); err != nil {
		fw.Close()
		return nil, errors.Wrapf(err, "config: watching %s", path)
	}

	w := &Watcher{path: path, watcher: fw, stopCh: make(chan struct{})}
	go w.run(onChange)
	return w, nil
}

func (w *Watcher) run(onChange func(Document)) {
	for {
		select {
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			doc, err := Load(w.path)
			if err != nil {
				log.Printf("config: reload of %s failed, keeping previous config: %v", w.path, err)
				continue
			}
			onChange(doc)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			log.Printf("config: watcher error on %s: %v", w.path, err)
		case <-w.stopCh:
			return
		}
	}
}

// Close stops the watcher.
func (w *Watcher) Close() error {
	close(w.stopCh)
	return w.watcher.Close()
}
