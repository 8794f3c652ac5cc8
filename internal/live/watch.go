// Package live tails the Messages store for new rows. chat.db is written
// by Messages.app in WAL mode, so changes show up as filesystem events on
// the database directory; a debounce collapses the bursts one incoming
// message produces across chat.db, -wal, and -shm.
package live

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Options configures a watch loop.
type Options struct {
	// ChatDBPath is the chat.db file whose directory is watched.
	ChatDBPath string
	// Debounce delays the poll after the last filesystem event.
	Debounce time.Duration
	// Poll is invoked once at startup and after each debounced change.
	Poll func(ctx context.Context) error
	// Logf receives progress lines; nil discards them.
	Logf func(format string, args ...any)
}

// Watch blocks until ctx is cancelled, polling on every debounced change
// to the store. Poll errors are logged, not fatal: a transient lock during
// a Messages write should not kill the loop.
func Watch(ctx context.Context, opts Options) error {
	logf := opts.Logf
	if logf == nil {
		logf = func(string, ...any) {}
	}
	debounce := opts.Debounce
	if debounce <= 0 {
		debounce = 2 * time.Second
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()

	dir := filepath.Dir(opts.ChatDBPath)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}
	base := filepath.Base(opts.ChatDBPath)

	logf("Watching %s for changes (debounce: %s)", dir, debounce)
	logf("Press Ctrl+C to stop")

	runPoll := func() {
		if err := opts.Poll(ctx); err != nil {
			logf("watch poll error: %v", err)
		}
	}
	runPoll()

	var debounceTimer *time.Timer
	defer func() {
		if debounceTimer != nil {
			debounceTimer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !strings.Contains(filepath.Base(event.Name), base) {
				continue
			}
			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			debounceTimer = time.AfterFunc(debounce, runPoll)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logf("watch error: %v", err)
		}
	}
}
