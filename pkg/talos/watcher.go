package talos

import (
	"github.com/fsnotify/fsnotify"
)

// talosconfigWatcher reloads providers when the credential file changes on
// disk.
type talosconfigWatcher struct {
	path  string
	close func() error
}

func newTalosconfigWatcher(path string) *talosconfigWatcher {
	return &talosconfigWatcher{path: path}
}

// Watch invokes onChange for every write to the watched file. Calling
// Watch again replaces the previous watch.
func (w *talosconfigWatcher) Watch(onChange func() error) {
	if w.path == "" {
		return
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return
	}
	if err := watcher.Add(w.path); err != nil {
		_ = watcher.Close()
		return
	}
	go func() {
		for {
			select {
			case _, ok := <-watcher.Events:
				if !ok {
					return
				}
				_ = onChange()
			case _, ok := <-watcher.Errors:
				if !ok {
					return
				}
			}
		}
	}()
	if w.close != nil {
		_ = w.close()
	}
	w.close = watcher.Close
}

func (w *talosconfigWatcher) Close() error {
	if w.close != nil {
		return w.close()
	}
	return nil
}
