package eventlog

import (
	"bufio"
	"bytes"
	"path/filepath"
	"testing"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/twinleaf/tio/pkg/jsonutil"
)

func openTestJournal(t *testing.T, retain int) *Journal {
	t.Helper()
	path := filepath.Join(t.TempDir(), "events.db")
	j, err := Open(path, retain, nil)
	require.NoError(t, err)
	t.Cleanup(func() { j.Close() })
	return j
}

func waitRecords(t *testing.T, j *Journal, n int) []Record {
	t.Helper()
	var records []Record
	require.Eventually(t, func() bool {
		var err error
		records, err = j.Recent(n + 10)
		require.NoError(t, err)
		return len(records) >= n
	}, 2*time.Second, 5*time.Millisecond)
	return records
}

func TestJournalAppendAndRecent(t *testing.T) {
	j := openTestJournal(t, 100)

	j.Append(Record{Kind: "SensorConnected", Detail: "SensorConnected"})
	j.Append(Record{Kind: "NewClient", Detail: "NewClient(1)", Client: 1})

	records := waitRecords(t, j, 2)
	require.Len(t, records, 2)
	// Chronological order, sequence numbers assigned.
	assert.Equal(t, "SensorConnected", records[0].Kind)
	assert.Equal(t, uint64(1), records[0].Seq)
	assert.Equal(t, "NewClient", records[1].Kind)
	assert.Equal(t, uint64(1), records[1].Client)
	assert.False(t, records[0].At.IsZero())
}

func TestJournalRetention(t *testing.T) {
	j := openTestJournal(t, 5)

	for i := 0; i < 12; i++ {
		j.Append(Record{Kind: "RpcRemap"})
	}

	require.Eventually(t, func() bool {
		records, err := j.Recent(100)
		require.NoError(t, err)
		return len(records) == 5 && records[len(records)-1].Seq == 12
	}, 2*time.Second, 5*time.Millisecond)

	records, err := j.Recent(100)
	require.NoError(t, err)
	assert.Equal(t, uint64(8), records[0].Seq)
}

func TestJournalSeqResumesAfterReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.db")
	j, err := Open(path, 100, nil)
	require.NoError(t, err)
	j.Append(Record{Kind: "SensorConnected"})
	require.Eventually(t, func() bool {
		records, err := j.Recent(10)
		require.NoError(t, err)
		return len(records) == 1
	}, 2*time.Second, 5*time.Millisecond)
	require.NoError(t, j.Close())

	j2, err := Open(path, 100, nil)
	require.NoError(t, err)
	defer j2.Close()
	j2.Append(Record{Kind: "Exiting"})

	records := waitRecords(t, j2, 2)
	assert.Equal(t, uint64(2), records[1].Seq)
}

func TestJournalExport(t *testing.T) {
	j := openTestJournal(t, 100)
	j.Append(Record{Kind: "SensorConnected"})
	j.Append(Record{Kind: "Exiting"})
	waitRecords(t, j, 2)

	var buf bytes.Buffer
	require.NoError(t, j.Export(&buf))

	zr, err := zstd.NewReader(&buf)
	require.NoError(t, err)
	defer zr.Close()

	var kinds []string
	scanner := bufio.NewScanner(zr)
	for scanner.Scan() {
		var rec Record
		require.NoError(t, jsonutil.Unmarshal(scanner.Bytes(), &rec))
		kinds = append(kinds, rec.Kind)
	}
	require.NoError(t, scanner.Err())
	assert.Equal(t, []string{"SensorConnected", "Exiting"}, kinds)
}
