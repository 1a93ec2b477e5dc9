package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type changeLog struct {
	mu      sync.Mutex
	batches [][]string
}

func (c *changeLog) record(_ context.Context, paths []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.batches = append(c.batches, paths)
}

func (c *changeLog) all() [][]string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([][]string(nil), c.batches...)
}

func startWatcher(t *testing.T, dir string, log *changeLog) *Watcher {
	t.Helper()
	w, err := NewWatcher([]string{dir}, 50*time.Millisecond, zaptest.NewLogger(t), log.record)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Error("watcher did not stop")
		}
	})
	return w
}

func TestWatcherBatchesSettledChanges(t *testing.T) {
	dir := t.TempDir()
	var log changeLog
	startWatcher(t, dir, &log)

	a := filepath.Join(dir, "a.dcm")
	b := filepath.Join(dir, "b.dcm")
	require.NoError(t, os.WriteFile(a, []byte("x"), 0644))
	require.NoError(t, os.WriteFile(b, []byte("y"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".tmp"), []byte("z"), 0644))

	require.Eventually(t, func() bool { return len(log.all()) > 0 }, 5*time.Second, 20*time.Millisecond)
	var seen []string
	for _, batch := range log.all() {
		assert.IsIncreasing(t, batch)
		seen = append(seen, batch...)
	}
	assert.Contains(t, seen, a)
	assert.Contains(t, seen, b)
	assert.NotContains(t, seen, filepath.Join(dir, ".tmp"))
}

func TestWatcherFollowsNewDirectories(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "existing"), 0755))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, ".cache"), 0755))

	var log changeLog
	w := startWatcher(t, dir, &log)
	assert.Equal(t, []string{dir, filepath.Join(dir, "existing")}, w.Watched())

	sub := filepath.Join(dir, "series2")
	require.NoError(t, os.MkdirAll(sub, 0755))
	require.Eventually(t, func() bool {
		for _, d := range w.Watched() {
			if d == sub {
				return true
			}
		}
		return false
	}, 5*time.Second, 20*time.Millisecond)

	f := filepath.Join(sub, "1.dcm")
	require.NoError(t, os.WriteFile(f, []byte("x"), 0644))
	require.Eventually(t, func() bool {
		for _, batch := range log.all() {
			for _, p := range batch {
				if p == f {
					return true
				}
			}
		}
		return false
	}, 5*time.Second, 20*time.Millisecond)
}

func TestNewWatcherMissingDirectory(t *testing.T) {
	_, err := NewWatcher([]string{filepath.Join(t.TempDir(), "absent")}, time.Millisecond, nil, func(context.Context, []string) {})
	assert.Error(t, err)
}
