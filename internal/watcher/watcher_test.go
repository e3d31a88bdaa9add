package watcher

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWatcher_Relevant(t *testing.T) {
	dir := t.TempDir()
	manifest := filepath.Join(dir, "program.yaml")
	require.NoError(t, os.WriteFile(manifest, []byte("methods: []\n"), 0o644))

	w, err := New(manifest, func(context.Context, []string) error { return nil })
	require.NoError(t, err)
	defer w.fsWatcher.Close()
	assert.True(t, w.Relevant(manifest))
	assert.False(t, w.Relevant(filepath.Join(dir, "other.yaml")))

	tree, err := New(dir, func(context.Context, []string) error { return nil })
	require.NoError(t, err)
	defer tree.fsWatcher.Close()
	assert.True(t, tree.Relevant(filepath.Join(dir, "pkg", "a.go")))
	assert.True(t, tree.Relevant(filepath.Join(dir, "go.mod")))
	assert.False(t, tree.Relevant(filepath.Join(dir, "README.md")))
}

func TestNew_MissingTarget(t *testing.T) {
	_, err := New(filepath.Join(t.TempDir(), "missing.yaml"), nil)
	assert.Error(t, err)
}

func TestSkipDir(t *testing.T) {
	for _, name := range []string{".git", "_examples", "vendor", "testdata"} {
		assert.True(t, skipDir(name), name)
	}
	assert.False(t, skipDir("internal"))
}

func TestWatcher_RebuildsOnChange(t *testing.T) {
	dir := t.TempDir()
	manifest := filepath.Join(dir, "program.yaml")
	require.NoError(t, os.WriteFile(manifest, []byte("methods: []\n"), 0o644))

	rebuilt := make(chan []string, 4)
	w, err := New(manifest, func(_ context.Context, changed []string) error {
		rebuilt <- changed
		return nil
	}, WithDebounce(20*time.Millisecond))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	// Unrelated files in the same directory are ignored.
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(manifest, []byte("methods:\n  - ref: A.a()V\n"), 0o644))

	select {
	case changed := <-rebuilt:
		assert.Equal(t, []string{manifest}, changed)
	case <-time.After(5 * time.Second):
		t.Fatal("no rebuild after the manifest changed")
	}

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("watcher did not stop")
	}
}

func TestWatcher_ReportsRebuildErrors(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "main.go")
	require.NoError(t, os.WriteFile(src, []byte("package main\n"), 0o644))

	errs := make(chan error, 4)
	w, err := New(dir, func(context.Context, []string) error {
		return assert.AnError
	}, WithDebounce(10*time.Millisecond), WithOnError(func(err error) { errs <- err }))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	require.NoError(t, os.WriteFile(src, []byte("package main\n\nfunc main() {}\n"), 0o644))

	select {
	case err := <-errs:
		assert.ErrorIs(t, err, assert.AnError)
	case <-time.After(5 * time.Second):
		t.Fatal("rebuild error was not reported")
	}
}
