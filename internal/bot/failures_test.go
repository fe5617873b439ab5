package bot

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFailureKindPermanence(t *testing.T) {
	t.Parallel()

	require.True(t, FailureMalformedURL.Permanent())
	require.False(t, FailureTransaction.Permanent())
	require.False(t, FailureNetwork.Permanent())
	require.True(t, FailureKind("http-404").Permanent())
	require.True(t, FailureKind("http-403").Permanent())
	require.True(t, FailureKind("http-410").Permanent())
	require.False(t, FailureKind("http-429").Permanent())
	require.False(t, FailureKind("http-500").Permanent())
	require.False(t, FailureKind("http-503").Permanent())
	require.True(t, FailureKind("no-such-kind").Permanent(), "unknown kinds must not retry")
}

func TestHTTPFailureKind(t *testing.T) {
	t.Parallel()

	kind, ok := HTTPFailureKind(404)
	require.True(t, ok)
	require.Equal(t, FailureKind("http-404"), kind)
	require.True(t, kind.Permanent())

	kind, ok = HTTPFailureKind(503)
	require.True(t, ok)
	require.Equal(t, FailureKind("http-503"), kind)
	require.False(t, kind.Permanent())

	_, ok = HTTPFailureKind(200)
	require.False(t, ok)
	_, ok = HTTPFailureKind(301)
	require.False(t, ok)

	// Uncatalogued statuses still classify by class.
	kind, ok = HTTPFailureKind(418)
	require.True(t, ok)
	require.True(t, kind.Permanent())
	kind, ok = HTTPFailureKind(599)
	require.True(t, ok)
	require.False(t, kind.Permanent())
}

func TestFailureKindsSeedCopy(t *testing.T) {
	t.Parallel()

	seed := FailureKinds()
	require.Contains(t, seed, FailureTransaction)
	seed[FailureTransaction] = true
	require.False(t, FailureTransaction.Permanent(), "seed copies must not alias the taxonomy")
}

func TestHTTPErrorUnwrapsByType(t *testing.T) {
	t.Parallel()

	var err error = &HTTPError{StatusCode: 429, URL: "http://example.com"}
	var httpErr *HTTPError
	require.True(t, errors.As(err, &httpErr))
	require.Equal(t, 429, httpErr.StatusCode)
	require.Contains(t, err.Error(), "429")
}
