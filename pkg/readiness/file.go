package readiness

import (
	"context"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// watchFile implements the file readiness predicate of §4.5: "watch a
// designated path via filesystem-change notification; promote when
// the file appears or is modified. If the file already exists at
// start of watching, promote immediately."
func watchFile(ctx context.Context, path string) <-chan Outcome {
	out := make(chan Outcome, 1)

	go func() {
		if _, err := os.Stat(path); err == nil {
			out <- Outcome{Ready: true}
			return
		}

		watcher, err := fsnotify.NewWatcher()
		if err != nil {
			out <- Outcome{Err: err}
			return
		}
		defer watcher.Close()

		// Watch the parent directory: the target may not exist yet, and
		// fsnotify cannot watch a path that isn't there.
		dir := filepath.Dir(path)
		if err := watcher.Add(dir); err != nil {
			out <- Outcome{Err: err}
			return
		}

		// The file could have been created between the Stat above and
		// Add registering; check again now that we're guaranteed not to
		// miss a subsequent event.
		if _, err := os.Stat(path); err == nil {
			out <- Outcome{Ready: true}
			return
		}

		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) == filepath.Clean(path) &&
					(ev.Op&(fsnotify.Create|fsnotify.Write) != 0) {
					out <- Outcome{Ready: true}
					return
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				out <- Outcome{Err: err}
				return
			}
		}
	}()

	return out
}
