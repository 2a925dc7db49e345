package promptcache

import (
	"context"

	"github.com/fsnotify/fsnotify"
)

// WatchKnowledge watches the knowledge-base directory and marks the manager
// dirty when a file changes, so the next EnsureValid revalidates the content
// hash instead of trusting the live cache. The watch stops when ctx is done.
func (m *Manager) WatchKnowledge(ctx context.Context, dir string) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return err
	}
	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) != 0 {
					m.logger.Debug("knowledge file changed", "file", event.Name)
					m.MarkDirty()
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				m.logger.Warn("knowledge watcher error", "error", err)
			}
		}
	}()
	return nil
}
