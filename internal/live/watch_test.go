package live

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"
)

func TestWatchPollsOnChange(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "chat.db")
	if err := os.WriteFile(dbPath, []byte("initial"), 0o600); err != nil {
		t.Fatal(err)
	}

	var polls atomic.Int64
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- Watch(ctx, Options{
			ChatDBPath: dbPath,
			Debounce:   10 * time.Millisecond,
			Poll: func(context.Context) error {
				polls.Add(1)
				return nil
			},
		})
	}()

	// Initial poll runs unconditionally.
	waitFor(t, func() bool { return polls.Load() >= 1 })

	// A write to the wal file next to chat.db triggers a debounced poll.
	if err := os.WriteFile(dbPath+"-wal", []byte("new row"), 0o600); err != nil {
		t.Fatal(err)
	}
	waitFor(t, func() bool { return polls.Load() >= 2 })

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Watch: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Watch did not stop on cancellation")
	}
}

func TestWatchIgnoresUnrelatedFiles(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "chat.db")
	if err := os.WriteFile(dbPath, []byte("initial"), 0o600); err != nil {
		t.Fatal(err)
	}

	var polls atomic.Int64
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- Watch(ctx, Options{
			ChatDBPath: dbPath,
			Debounce:   10 * time.Millisecond,
			Poll: func(context.Context) error {
				polls.Add(1)
				return nil
			},
		})
	}()
	waitFor(t, func() bool { return polls.Load() >= 1 })

	if err := os.WriteFile(filepath.Join(dir, "other.txt"), []byte("x"), 0o600); err != nil {
		t.Fatal(err)
	}
	time.Sleep(100 * time.Millisecond)
	if got := polls.Load(); got != 1 {
		t.Errorf("polls = %d after unrelated write, want 1", got)
	}

	cancel()
	<-done
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}
