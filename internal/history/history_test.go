package history

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCountersIncrementPerKey(t *testing.T) {
	c := NewCounters()
	require.Equal(t, 1, c.Next("dep:mod:fn"))
	require.Equal(t, 2, c.Next("dep:mod:fn"))
	require.Equal(t, 1, c.Next("dep:mod:other"))
}

func TestNewRequestEntryGeneratesStableUniqueID(t *testing.T) {
	c := NewCounters()
	e1 := NewRequestEntry(c, "dep", "mod", "fn", "GET", nil, nil)
	e2 := NewRequestEntry(c, "dep", "mod", "fn", "GET", nil, nil)
	require.NotEqual(t, e1.ID, e2.ID)
	require.Equal(t, "dep:mod:fn:1", e1.ID)
	require.Equal(t, "dep:mod:fn:2", e2.ID)
}

func TestNewRequestEntryCapturesMethodArgsAndFiles(t *testing.T) {
	c := NewCounters()
	e := NewRequestEntry(c, "dep", "mod", "fn", "POST", map[string]string{"x": "1"}, map[string]string{"in": "/tmp/in"})
	require.Equal(t, "POST", e.Method)
	require.Equal(t, "1", e.Args["x"])
	require.Equal(t, "/tmp/in", e.RequestFiles["in"])
	require.False(t, e.WorkQueuedAt.IsZero())
}

func TestHistoryAppendAndLookup(t *testing.T) {
	h := NewHistory()
	c := NewCounters()
	e := NewRequestEntry(c, "dep", "mod", "fn", "GET", nil, nil)
	e.Success = true
	e.Result = "7"
	h.Append(e)

	got, ok := h.ByID(e.ID)
	require.True(t, ok)
	require.Equal(t, "7", got.Result)
	require.Len(t, h.All(), 1)

	_, ok = h.ByID("missing")
	require.False(t, ok)
}
