package watch

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func collectEvents(t *testing.T, w *Watcher) <-chan FileEvent {
	t.Helper()
	ch := make(chan FileEvent, 16)
	w.OnEvent(func(e FileEvent) {
		ch <- e
	})
	return ch
}

func waitForEvent(t *testing.T, ch <-chan FileEvent, timeout time.Duration) FileEvent {
	t.Helper()
	select {
	case e := <-ch:
		return e
	case <-time.After(timeout):
		t.Fatal("timed out waiting for event")
		return FileEvent{}
	}
}

func TestRapidWritesCoalesce(t *testing.T) {
	dir := t.TempDir()
	w, err := New([]string{dir}, []string{"*.py"}, nil, 150*time.Millisecond)
	require.NoError(t, err)
	events := collectEvents(t, w)

	require.NoError(t, w.Start(context.Background()))
	defer w.Stop()

	path := filepath.Join(dir, "a.py")
	require.NoError(t, os.WriteFile(path, []byte("x = 1\n"), 0644))
	time.Sleep(50 * time.Millisecond)
	require.NoError(t, os.WriteFile(path, []byte("x = 2\n"), 0644))

	e := waitForEvent(t, events, 5*time.Second)
	assert.Equal(t, path, e.Path)
	assert.Equal(t, KindCreated, e.Kind)
	assert.True(t, e.Stable)
	assert.NotEmpty(t, e.ID)
	assert.NotEmpty(t, e.Digest)

	// No second event for the same burst of writes
	select {
	case extra := <-events:
		t.Fatalf("unexpected extra event: %+v", extra)
	case <-time.After(500 * time.Millisecond):
	}

	stats := w.GetStats()
	assert.Equal(t, 1, stats.Emitted)
	assert.GreaterOrEqual(t, stats.RawEvents, 2)
}

func TestIgnoredPathsFiltered(t *testing.T) {
	dir := t.TempDir()
	w, err := New([]string{dir}, nil, []string{"*.tmp", "node_modules"}, 100*time.Millisecond)
	require.NoError(t, err)
	events := collectEvents(t, w)

	require.NoError(t, w.Start(context.Background()))
	defer w.Stop()

	require.NoError(t, os.WriteFile(filepath.Join(dir, "scratch.tmp"), []byte("x"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "kept.txt"), []byte("x"), 0644))

	e := waitForEvent(t, events, 5*time.Second)
	assert.Equal(t, filepath.Join(dir, "kept.txt"), e.Path)

	stats := w.GetStats()
	assert.GreaterOrEqual(t, stats.Filtered, 1)
}

func TestIncludePatternsLimitEvents(t *testing.T) {
	dir := t.TempDir()
	w, err := New([]string{dir}, []string{"*.go"}, nil, 100*time.Millisecond)
	require.NoError(t, err)
	events := collectEvents(t, w)

	require.NoError(t, w.Start(context.Background()))
	defer w.Stop()

	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.md"), []byte("x"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "main.go"), []byte("package main\n"), 0644))

	e := waitForEvent(t, events, 5*time.Second)
	assert.Equal(t, filepath.Join(dir, "main.go"), e.Path)
}

func TestDeletedBeforeSettling(t *testing.T) {
	dir := t.TempDir()
	w, err := New([]string{dir}, nil, nil, 200*time.Millisecond)
	require.NoError(t, err)
	events := collectEvents(t, w)

	require.NoError(t, w.Start(context.Background()))
	defer w.Stop()

	path := filepath.Join(dir, "gone.txt")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0644))
	require.NoError(t, os.Remove(path))

	e := waitForEvent(t, events, 5*time.Second)
	assert.Equal(t, path, e.Path)
	assert.Equal(t, KindDeleted, e.Kind)
	assert.Empty(t, e.Digest)

	stats := w.GetStats()
	assert.Equal(t, 1, stats.Deleted)
}

func TestNewDirectoriesJoinWatch(t *testing.T) {
	dir := t.TempDir()
	w, err := New([]string{dir}, nil, nil, 100*time.Millisecond)
	require.NoError(t, err)
	events := collectEvents(t, w)

	require.NoError(t, w.Start(context.Background()))
	defer w.Stop()

	sub := filepath.Join(dir, "nested")
	require.NoError(t, os.Mkdir(sub, 0755))
	// Give the watcher a moment to pick up the new directory
	time.Sleep(200 * time.Millisecond)

	path := filepath.Join(sub, "inner.txt")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0644))

	e := waitForEvent(t, events, 5*time.Second)
	assert.Equal(t, path, e.Path)
}

func TestStopIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	w, err := New([]string{dir}, nil, nil, 100*time.Millisecond)
	require.NoError(t, err)

	require.NoError(t, w.Start(context.Background()))
	assert.True(t, w.IsWatching())

	w.Stop()
	assert.False(t, w.IsWatching())
	w.Stop() // second stop must not panic or block
}

func TestMatchesAny(t *testing.T) {
	cases := []struct {
		rel, name string
		patterns  []string
		want      bool
	}{
		{"src/main.py", "main.py", []string{"*.py"}, true},
		{"src/main.py", "main.py", []string{"*.go"}, false},
		{"node_modules/pkg/index.js", "index.js", []string{"node_modules"}, true},
		{"vendor/lib/a.go", "a.go", []string{"vendor/*"}, true},
		{"docs/readme.md", "readme.md", []string{"readme.md"}, true},
		{"a/b/c.txt", "c.txt", []string{""}, false},
		{"build", "build", []string{"build/"}, true},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, matchesAny(tc.rel, tc.name, tc.patterns),
			"rel=%s patterns=%v", tc.rel, tc.patterns)
	}
}
