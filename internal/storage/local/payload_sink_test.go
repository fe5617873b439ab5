package local

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPutAndDeleteRoundTrip(t *testing.T) {
	t.Parallel()

	sink, err := New(Config{BaseDir: t.TempDir()})
	require.NoError(t, err)

	location, err := sink.Put(context.Background(), "key-1/task-1", "application/pdf", []byte("payload"))
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(location, "file://"))

	data, err := os.ReadFile(strings.TrimPrefix(location, "file://"))
	require.NoError(t, err)
	require.Equal(t, "payload", string(data))

	require.NoError(t, sink.Delete(context.Background(), location))
	_, err = os.Stat(strings.TrimPrefix(location, "file://"))
	require.True(t, os.IsNotExist(err))

	// Deleting again is a no-op.
	require.NoError(t, sink.Delete(context.Background(), location))
}

func TestPutRejectsTraversal(t *testing.T) {
	t.Parallel()

	sink, err := New(Config{BaseDir: t.TempDir()})
	require.NoError(t, err)

	_, err = sink.Put(context.Background(), "../escape", "", []byte("x"))
	require.Error(t, err)
}

func TestDeleteRejectsOutsideBase(t *testing.T) {
	t.Parallel()

	sink, err := New(Config{BaseDir: t.TempDir()})
	require.NoError(t, err)

	other := filepath.Join(t.TempDir(), "victim")
	require.NoError(t, os.WriteFile(other, []byte("keep"), 0o600))

	require.Error(t, sink.Delete(context.Background(), "file://"+other))
	_, err = os.Stat(other)
	require.NoError(t, err)
}

func TestNewRequiresBaseDir(t *testing.T) {
	t.Parallel()

	_, err := New(Config{})
	require.Error(t, err)
}

func TestNewCreatesMissingBaseDir(t *testing.T) {
	t.Parallel()

	base := filepath.Join(t.TempDir(), "nested", "payloads")
	_, err := New(Config{BaseDir: base})
	require.NoError(t, err)

	info, err := os.Stat(base)
	require.NoError(t, err)
	require.True(t, info.IsDir())
}
