package credentials

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	"whisperflow/internal/logging"
)

// Watch reloads the cached token whenever the secrets file changes. It
// watches the parent directory so atomic replacements are seen, and blocks
// until ctx is done.
func (s *Store) Watch(ctx context.Context) error {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("credentials: create secrets dir: %w", err)
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("credentials: create watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("credentials: watch %q: %w", dir, err)
	}
	target := filepath.Clean(s.path)

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename) {
				if err := s.Reload(); err != nil {
					logging.WarnWithContext(s.logger, "secrets reload failed", "credentials_reload_failed",
						logging.Error(err),
						logging.String(logging.FieldImpact, "diarization keeps using the previous token"),
						logging.String(logging.FieldErrorHint, "fix the secrets file or run 'whisperflow token set'"),
					)
				}
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			s.logger.Debug("secrets watcher error", logging.Error(err))
		}
	}
}
