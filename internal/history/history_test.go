package history

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func testRecord(id string, finished time.Time) Record {
	return Record{
		TaskID:     id,
		URL:        "http://example.test/" + id,
		Host:       "Direct Link",
		Status:     "completed",
		Filename:   id + ".bin",
		Size:       1000,
		CreatedAt:  finished.Add(-time.Minute),
		FinishedAt: finished,
	}
}

func TestStore_AddAndList(t *testing.T) {
	s, err := Open(t.TempDir())
	require.NoError(t, err)
	defer s.Close()

	records, err := s.List(10)
	require.NoError(t, err)
	require.Empty(t, records)

	base := time.Now().Truncate(time.Second)
	for i := 0; i < 3; i++ {
		require.NoError(t, s.Add(testRecord(fmt.Sprintf("t%d", i), base.Add(time.Duration(i)*time.Minute))))
	}

	records, err = s.List(10)
	require.NoError(t, err)
	require.Len(t, records, 3)
	// Newest first.
	require.Equal(t, "t2", records[0].TaskID)
	require.Equal(t, "t0", records[2].TaskID)
	require.Equal(t, int64(1000), records[0].Size)
	require.Equal(t, "completed", records[0].Status)

	records, err = s.List(2)
	require.NoError(t, err)
	require.Len(t, records, 2)
}

func TestStore_KeepsFailureDetail(t *testing.T) {
	s, err := Open(t.TempDir())
	require.NoError(t, err)
	defer s.Close()

	rec := testRecord("bad", time.Now())
	rec.Status = "failed"
	rec.Error = "bad status code: 404"
	require.NoError(t, s.Add(rec))

	records, err := s.List(1)
	require.NoError(t, err)
	require.Len(t, records, 1)
	require.Equal(t, "failed", records[0].Status)
	require.Equal(t, "bad status code: 404", records[0].Error)
}

func TestStore_ReopenSeesData(t *testing.T) {
	dir := t.TempDir()

	s, err := Open(dir)
	require.NoError(t, err)
	require.NoError(t, s.Add(testRecord("persisted", time.Now())))
	require.NoError(t, s.Close())

	s, err = Open(dir)
	require.NoError(t, err)
	defer s.Close()

	records, err := s.List(10)
	require.NoError(t, err)
	require.Len(t, records, 1)
	require.Equal(t, "persisted", records[0].TaskID)
}
