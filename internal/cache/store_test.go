package cache

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type point struct {
	Lon float64 `json:"lon"`
	Lat float64 `json:"lat"`
}

func TestStoreRoundTripAppendOnly(t *testing.T) {
	path := filepath.Join(t.TempDir(), "geo.jsonl")

	s, err := Open[point](path)
	require.NoError(t, err)
	require.NoError(t, s.Put("a", point{1, 2}))
	require.NoError(t, s.Put("b", point{3, 4}))
	require.NoError(t, s.Flush())
	assert.Equal(t, 0, s.Pending())

	require.NoError(t, s.Put("a", point{5, 6}))
	require.NoError(t, s.Flush())

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, 3, strings.Count(string(raw), "\n"), "earlier lines are never rewritten")

	reopened, err := Open[point](path)
	require.NoError(t, err)
	assert.Equal(t, 2, reopened.Len())
	v, ok := reopened.Get("a")
	require.True(t, ok)
	assert.Equal(t, point{5, 6}, v, "last line wins")
}

func TestStoreSkipsTornLine(t *testing.T) {
	path := filepath.Join(t.TempDir(), "geo.jsonl")
	body := `{"k":"a","v":{"lon":1,"lat":2}}` + "\n" + `{"k":"b","v":{"lo`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

	s, err := Open[point](path)
	require.NoError(t, err)
	assert.Equal(t, 1, s.Len())
	_, ok := s.Get("b")
	assert.False(t, ok)
}

func TestStoreAutoFlush(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "geo.jsonl")
	s, err := Open[point](path, WithFlushEvery(2))
	require.NoError(t, err)

	require.NoError(t, s.Put("a", point{}))
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))

	require.NoError(t, s.Put("b", point{}))
	_, err = os.Stat(path)
	assert.NoError(t, err)
}

func TestSnapshotIsACopy(t *testing.T) {
	s := Memory[int]()
	require.NoError(t, s.Put("x", 1))
	snap := s.Snapshot()
	snap["y"] = 2

	_, ok := s.Get("y")
	assert.False(t, ok)
	require.NoError(t, s.Merge(map[string]int{"y": 3}))
	v, _ := s.Get("y")
	assert.Equal(t, 3, v)
	require.NoError(t, s.Flush())
}
