package storage

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ipo-callgraph/pkg/config"
	apperrors "github.com/ipo-callgraph/pkg/errors"
)

func TestNewLocalStorage(t *testing.T) {
	t.Run("CreatesDirectory", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "artifacts")

		storage, err := NewLocalStorage(path)
		require.NoError(t, err)
		require.NotNil(t, storage)

		info, err := os.Stat(path)
		require.NoError(t, err)
		assert.True(t, info.IsDir())
		assert.Equal(t, path, storage.GetBasePath())
	})

	t.Run("CreateWithEmptyPath", func(t *testing.T) {
		t.Chdir(t.TempDir())

		storage, err := NewLocalStorage("")
		require.NoError(t, err)
		assert.Equal(t, "./artifacts", storage.GetBasePath())
	})
}

func TestLocalStorage_UploadDownload(t *testing.T) {
	storage, err := NewLocalStorage(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	content := []byte(`{"name":"scenario_a"}`)
	require.NoError(t, storage.Upload(ctx, "callgraph/scenario_a/run.json", bytes.NewReader(content), "application/json"))

	data, err := os.ReadFile(storage.GetURL("callgraph/scenario_a/run.json"))
	require.NoError(t, err)
	assert.Equal(t, content, data)

	rc, err := storage.Download(ctx, "callgraph/scenario_a/run.json")
	require.NoError(t, err)
	got, err := io.ReadAll(rc)
	rc.Close()
	require.NoError(t, err)
	assert.Equal(t, content, got)

	entries, err := os.ReadDir(filepath.Dir(storage.GetURL("callgraph/scenario_a/run.json")))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temporary files are left behind")

	_, err = storage.Download(ctx, "callgraph/missing.json")
	assert.True(t, apperrors.IsNotFound(err))
}

func TestLocalStorage_RejectsEscapingKeys(t *testing.T) {
	storage, err := NewLocalStorage(t.TempDir())
	require.NoError(t, err)

	for _, key := range []string{"", "../outside.dot", "a/../../outside.dot", "/etc/passwd"} {
		err := storage.Upload(context.Background(), key, bytes.NewReader(nil), "")
		assert.Equal(t, apperrors.CodeInvalidInput, apperrors.GetErrorCode(err), key)
	}
}

func TestLocalStorage_DeleteExists(t *testing.T) {
	storage, err := NewLocalStorage(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, storage.Upload(ctx, "run.dot", bytes.NewReader([]byte("digraph {}")), ""))

	exists, err := storage.Exists(ctx, "run.dot")
	require.NoError(t, err)
	assert.True(t, exists)

	require.NoError(t, storage.Delete(ctx, "run.dot"))
	require.NoError(t, storage.Delete(ctx, "run.dot"), "deleting twice is not an error")

	exists, err = storage.Exists(ctx, "run.dot")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestLocalStorage_Cancelled(t *testing.T) {
	storage, err := NewLocalStorage(t.TempDir())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, storage.Upload(ctx, "run.dot", bytes.NewReader(nil), ""), context.Canceled)
	_, err = storage.Exists(ctx, "run.dot")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNewStorage(t *testing.T) {
	storage, err := NewStorage(&config.StorageConfig{Type: "local", LocalPath: t.TempDir()})
	require.NoError(t, err)
	_, ok := storage.(*LocalStorage)
	assert.True(t, ok)
}
