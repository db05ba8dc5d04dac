package manifest

import (
	"github.com/fsnotify/fsnotify"

	"github.com/cuemby/initd/pkg/log"
)

// Watcher watches a manifest directory for additions and
// modifications, per §4.1 "The loader also watches the directory for
// additions and modifications (see §5)." Events are fed to
// pkg/reactor, which re-runs Load and triggers a reload.
type Watcher struct {
	fsw *fsnotify.Watcher
}

// Changed describes one filesystem event worth reacting to. Watcher
// itself delivers raw fsnotify.Event values through Events; nothing in
// this package produces a Changed. Coalescing is left to pkg/reactor,
// which debounces bursts before triggering a reload.
type Changed struct {
	Path string
	Op   fsnotify.Op
}

// NewWatcher starts watching dir. Callers should Close the Watcher
// when the reactor shuts down.
func NewWatcher(dir string) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fsw.Add(dir); err != nil {
		fsw.Close()
		return nil, err
	}
	return &Watcher{fsw: fsw}, nil
}

// Events returns the channel of filesystem change notifications. It
// is intended to be registered directly as one of pkg/reactor's event
// sources.
func (w *Watcher) Events() <-chan fsnotify.Event {
	return w.fsw.Events
}

// Errors returns the watcher's error channel; pkg/reactor logs these
// rather than treating them as fatal.
func (w *Watcher) Errors() <-chan error {
	return w.fsw.Errors
}

// Close stops watching.
func (w *Watcher) Close() error {
	return w.fsw.Close()
}

// LogErrors drains and logs the watcher's error channel; used by
// callers that don't otherwise select on Errors().
func (w *Watcher) LogErrors() {
	logger := log.WithComponent("manifest-watch")
	for err := range w.fsw.Errors {
		logger.Warn().Err(err).Msg("manifest watch error")
	}
}
