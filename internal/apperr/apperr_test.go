package apperr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestKindOfUnwrapsWrappedError(t *testing.T) {
	base := New(KindMount, "bad mount %s", "x")
	wrapped := fmt.Errorf("context: %w", base)

	kind, ok := KindOf(wrapped)
	require.True(t, ok)
	require.Equal(t, KindMount, kind)
}

func TestKindOfReturnsFalseForPlainError(t *testing.T) {
	_, ok := KindOf(errors.New("plain"))
	require.False(t, ok)
}

func TestWrapNilReturnsNil(t *testing.T) {
	require.NoError(t, Wrap(KindFetch, nil))
}

func TestWrapPreservesKindAndUnwrap(t *testing.T) {
	inner := errors.New("boom")
	err := Wrap(KindInvocation, inner)

	kind, ok := KindOf(err)
	require.True(t, ok)
	require.Equal(t, KindInvocation, kind)
	require.ErrorIs(t, err, inner)
}

func TestKindStringNames(t *testing.T) {
	require.Equal(t, "DescriptorError", KindDescriptor.String())
	require.Equal(t, "SubCallError", KindSubCall.String())
	require.Equal(t, "UnknownError", Kind(99).String())
}
