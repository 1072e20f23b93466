package coherr

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestIsMatchesKindThroughWrapping(t *testing.T) {
	base := New(RetryFault, "peer raced us")
	wrapped := Wrap(Wrap(base, "on_local_fault"), "page 0x1000")

	require.True(t, Is(wrapped, RetryFault))
	require.False(t, Is(wrapped, Nacked))
}

func TestKindOf(t *testing.T) {
	err := New(OutOfResources, "handle cache exhausted")
	kind, ok := KindOf(err)
	require.True(t, ok)
	require.Equal(t, OutOfResources, kind)

	_, ok = KindOf(nil)
	require.False(t, ok)
}

func TestKindOfFalseForPlainError(t *testing.T) {
	_, ok := KindOf(errors.New("not a core error"))
	require.False(t, ok)
}
