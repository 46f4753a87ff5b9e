package btreeindex

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dreamware/docbase/internal/dberr"
	"github.com/dreamware/docbase/internal/storageengine"
)

func seedIndex(t *testing.T, keys []string) *Index {
	t.Helper()
	idx, err := New("idx", V1, false, nil)
	require.NoError(t, err)
	for i, k := range keys {
		require.NoError(t, idx.Insert([]byte(k), storageengine.RecordId(i+1)))
	}
	return idx
}

func TestOpenForwardFullScan(t *testing.T) {
	idx := seedIndex(t, []string{"a", "b", "c"})
	cur, err := Open(context.Background(), idx, nil, nil, false, Forward, nil)
	require.NoError(t, err)
	defer cur.Close()

	var got []string
	for !cur.Eof() {
		got = append(got, string(cur.CurrentKey()))
		_, err := cur.Advance(context.Background())
		require.NoError(t, err)
	}
	assert.Equal(t, []string{"a", "b", "c"}, got)
}

func TestOpenWithEndKeyExclusive(t *testing.T) {
	idx := seedIndex(t, []string{"a", "b", "c", "d"})
	cur, err := Open(context.Background(), idx, []byte("a"), []byte("c"), false, Forward, nil)
	require.NoError(t, err)
	defer cur.Close()

	var got []string
	for !cur.Eof() {
		got = append(got, string(cur.CurrentKey()))
		_, err := cur.Advance(context.Background())
		require.NoError(t, err)
	}
	assert.Equal(t, []string{"a", "b"}, got)
}

func TestOpenWithEndKeyInclusive(t *testing.T) {
	idx := seedIndex(t, []string{"a", "b", "c", "d"})
	cur, err := Open(context.Background(), idx, []byte("a"), []byte("c"), true, Forward, nil)
	require.NoError(t, err)
	defer cur.Close()

	var got []string
	for !cur.Eof() {
		got = append(got, string(cur.CurrentKey()))
		_, err := cur.Advance(context.Background())
		require.NoError(t, err)
	}
	assert.Equal(t, []string{"a", "b", "c"}, got)
}

func TestBackwardScan(t *testing.T) {
	idx := seedIndex(t, []string{"a", "b", "c"})
	cur, err := Open(context.Background(), idx, nil, nil, false, Backward, nil)
	require.NoError(t, err)
	defer cur.Close()

	var got []string
	for !cur.Eof() {
		got = append(got, string(cur.CurrentKey()))
		_, err := cur.Advance(context.Background())
		require.NoError(t, err)
	}
	assert.Equal(t, []string{"c", "b", "a"}, got)
}

func TestSkipUnusedKeys(t *testing.T) {
	idx := seedIndex(t, []string{"a", "b", "c", "d"})
	idx.Delete([]byte("b"), 2)
	idx.Delete([]byte("c"), 3)

	cur, err := Open(context.Background(), idx, nil, nil, false, Forward, nil)
	require.NoError(t, err)
	defer cur.Close()

	var got []string
	for !cur.Eof() {
		got = append(got, string(cur.CurrentKey()))
		_, err := cur.Advance(context.Background())
		require.NoError(t, err)
	}
	assert.Equal(t, []string{"a", "d"}, got)
}

func TestSaveRestoreStateExactMatch(t *testing.T) {
	idx := seedIndex(t, []string{"a", "b", "c"})
	cur, err := Open(context.Background(), idx, nil, nil, false, Forward, nil)
	require.NoError(t, err)
	defer cur.Close()

	_, err = cur.Advance(context.Background()) // now at "b"
	require.NoError(t, err)
	saved := cur.SaveState()

	require.NoError(t, cur.RestoreState(context.Background(), saved))
	assert.Equal(t, "b", string(cur.CurrentKey()))
}

func TestRestoreStateAfterKeyDeletedReseeks(t *testing.T) {
	idx := seedIndex(t, []string{"a", "b", "c"})
	cur, err := Open(context.Background(), idx, nil, nil, false, Forward, nil)
	require.NoError(t, err)
	defer cur.Close()

	_, err = cur.Advance(context.Background()) // at "b"
	require.NoError(t, err)
	saved := cur.SaveState()

	idx.Delete([]byte("b"), 2)
	require.NoError(t, cur.RestoreState(context.Background(), saved))
	assert.Equal(t, "c", string(cur.CurrentKey()))
}

func TestRestoreStateAfterDropIsInvalidated(t *testing.T) {
	idx := seedIndex(t, []string{"a", "b"})
	cur, err := Open(context.Background(), idx, nil, nil, false, Forward, nil)
	require.NoError(t, err)
	defer cur.Close()
	saved := cur.SaveState()

	idx.Drop()
	err = cur.RestoreState(context.Background(), saved)
	require.Error(t, err)
	de, ok := dberr.AsError(err)
	require.True(t, ok)
	assert.Equal(t, dberr.KindCursorInvalidated, de.Kind)
}

func TestUnsupportedIndexVersionRejected(t *testing.T) {
	_, err := New("idx", Version(99), false, nil)
	require.Error(t, err)
	de, ok := dberr.AsError(err)
	require.True(t, ok)
	assert.Equal(t, dberr.KindUnsupportedIndexVersion, de.Kind)
}

func TestUniqueIndexRejectsDuplicateKey(t *testing.T) {
	idx, err := New("idx", V1, true, nil)
	require.NoError(t, err)
	require.NoError(t, idx.Insert([]byte("a"), storageengine.RecordId(1)))
	err = idx.Insert([]byte("a"), storageengine.RecordId(2))
	require.Error(t, err)
	de, ok := dberr.AsError(err)
	require.True(t, ok)
	assert.Equal(t, dberr.KindDuplicateKey, de.Kind)
}

type sliceBounds struct {
	intervals [][2]string
	i         int
}

func (s *sliceBounds) Current() (lo, hi []byte, hiInclusive bool, ok bool) {
	if s.i >= len(s.intervals) {
		return nil, nil, false, false
	}
	return []byte(s.intervals[s.i][0]), []byte(s.intervals[s.i][1]), false, true
}

func (s *sliceBounds) Advance() bool {
	s.i++
	return s.i < len(s.intervals)
}

func (s *sliceBounds) SeekHint() []byte {
	if s.i >= len(s.intervals) {
		return nil
	}
	return []byte(s.intervals[s.i][0])
}

func TestOpenWithBoundsSkipsGaps(t *testing.T) {
	idx := seedIndex(t, []string{"a", "b", "c", "d", "e", "f"})
	bounds := &sliceBounds{intervals: [][2]string{{"a", "b"}, {"e", "f"}}}

	cur, err := OpenWithBounds(context.Background(), idx, bounds, Forward, nil)
	require.NoError(t, err)
	defer cur.Close()

	var got []string
	for !cur.Eof() {
		got = append(got, string(cur.CurrentKey()))
		_, err := cur.Advance(context.Background())
		require.NoError(t, err)
	}
	assert.Equal(t, []string{"a", "e"}, got)
}
