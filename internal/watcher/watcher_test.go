package watcher

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDebouncerCoalescesBurst(t *testing.T) {
	d := NewDebouncer(30*time.Millisecond, time.Second, 8)
	defer d.Close()

	for i := 0; i < 5; i++ {
		d.Add(Event{Path: "/lib/a.zip", Op: OpWrite, At: time.Now()})
	}

	select {
	case batch := <-d.Batches():
		assert.Len(t, batch, 5, "burst should arrive as one batch")
		assert.Equal(t, "/lib/a.zip", batch[0].Path)
	case <-time.After(2 * time.Second):
		t.Fatal("no batch flushed")
	}
}

func TestDebouncerSeparatesPaths(t *testing.T) {
	d := NewDebouncer(20*time.Millisecond, time.Second, 8)
	defer d.Close()

	d.Add(Event{Path: "/lib/a.zip", Op: OpWrite})
	d.Add(Event{Path: "/lib/b.zip", Op: OpWrite})

	paths := make(map[string]int)
	for i := 0; i < 2; i++ {
		select {
		case batch := <-d.Batches():
			require.NotEmpty(t, batch)
			paths[batch[0].Path] += len(batch)
		case <-time.After(2 * time.Second):
			t.Fatal("missing batch")
		}
	}
	assert.Equal(t, map[string]int{"/lib/a.zip": 1, "/lib/b.zip": 1}, paths)
}

func TestDebouncerMaxDelayCapsWaiting(t *testing.T) {
	d := NewDebouncer(50*time.Millisecond, 200*time.Millisecond, 8)
	defer d.Close()

	// Keep resetting the quiet timer; the max delay must still flush.
	done := make(chan struct{})
	go func() {
		defer close(done)
		deadline := time.Now().Add(400 * time.Millisecond)
		for time.Now().Before(deadline) {
			d.Add(Event{Path: "/lib/busy.zip", Op: OpWrite})
			time.Sleep(10 * time.Millisecond)
		}
	}()

	select {
	case batch := <-d.Batches():
		assert.NotEmpty(t, batch)
	case <-time.After(time.Second):
		t.Fatal("max delay did not force a flush")
	}
	<-done
}

func TestWatcherDeliversCreateBatch(t *testing.T) {
	root := t.TempDir()

	config := Config{
		DebounceDelay:    30 * time.Millisecond,
		MaxDebounceDelay: time.Second,
		QueueCapacity:    16,
	}
	w, err := New(config)
	require.NoError(t, err)
	defer w.Close()

	require.NoError(t, w.Start([]string{root}))

	path := filepath.Join(root, "gallery.zip")
	require.NoError(t, os.WriteFile(path, []byte("stub"), 0o644))

	deadline := time.After(3 * time.Second)
	for {
		select {
		case batch := <-w.Batches():
			require.NotEmpty(t, batch)
			if batch[0].Path == path {
				return
			}
		case <-deadline:
			t.Fatal("no batch for the created file")
		}
	}
}

func TestWatcherSeesNewSubdirectories(t *testing.T) {
	root := t.TempDir()

	config := Config{
		DebounceDelay:    30 * time.Millisecond,
		MaxDebounceDelay: time.Second,
		QueueCapacity:    16,
	}
	w, err := New(config)
	require.NoError(t, err)
	defer w.Close()

	require.NoError(t, w.Start([]string{root}))

	sub := filepath.Join(root, "new-gallery")
	require.NoError(t, os.Mkdir(sub, 0o755))

	// Give the watcher a moment to pick up the new directory, then write
	// inside it. The write must surface as a batch.
	time.Sleep(200 * time.Millisecond)
	page := filepath.Join(sub, "001.jpg")
	require.NoError(t, os.WriteFile(page, []byte("img"), 0o644))

	deadline := time.After(3 * time.Second)
	for {
		select {
		case batch := <-w.Batches():
			require.NotEmpty(t, batch)
			if batch[0].Path == page {
				return
			}
		case <-deadline:
			t.Fatal("no batch for the file in the new subdirectory")
		}
	}
}
