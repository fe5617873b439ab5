package gcs

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewValidation(t *testing.T) {
	t.Parallel()

	_, err := New(nil, Config{Bucket: "archive"})
	require.Error(t, err)
}

func TestParseLocation(t *testing.T) {
	t.Parallel()

	bucket, object, err := parseLocation("gs://archive/key-1/task-1")
	require.NoError(t, err)
	require.Equal(t, "archive", bucket)
	require.Equal(t, "key-1/task-1", object)

	_, _, err = parseLocation("file:///tmp/x")
	require.Error(t, err)

	_, _, err = parseLocation("gs://archive")
	require.Error(t, err)
}
