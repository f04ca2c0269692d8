package database

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/gocarina/gocsv"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wizzomafizzo/tapto-pcsc/pkg/tokens"
)

func openTestDb(t *testing.T) *Database {
	t.Helper()
	dir := t.TempDir()
	db, err := Open(dir)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	assert.True(t, DbExists(dir))
	return db
}

func TestHistoryNewestFirst(t *testing.T) {
	db := openTestDb(t)

	for _, uid := range []string{"01", "02", "03"} {
		e, err := db.AddHistory(EntryFromToken(SourceSession, tokens.Token{
			Reader: "R1",
			UID:    uid,
		}))
		require.NoError(t, err)
		assert.NotZero(t, e.Id)
	}

	entries, err := db.GetHistory(0)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, "03", entries[0].UID)
	assert.Equal(t, "01", entries[2].UID)
	assert.Equal(t, "R1", entries[1].Reader)
	assert.True(t, entries[0].Success)
	assert.False(t, entries[0].Time.IsZero())

	entries, err = db.GetHistory(2)
	require.NoError(t, err)
	assert.Len(t, entries, 2)
	assert.Equal(t, "03", entries[0].UID)
}

func TestSameTimestampDoesNotCollide(t *testing.T) {
	db := openTestDb(t)
	now := time.Now()

	for i := 0; i < 2; i++ {
		_, err := db.AddHistory(HistoryEntry{Time: now, UID: "01", Source: SourceRead})
		require.NoError(t, err)
	}

	entries, err := db.GetHistory(0)
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}

func TestClearHistory(t *testing.T) {
	db := openTestDb(t)
	_, err := db.AddHistory(HistoryEntry{UID: "01"})
	require.NoError(t, err)

	require.NoError(t, db.ClearHistory())
	entries, err := db.GetHistory(0)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestExportHistoryCSV(t *testing.T) {
	db := openTestDb(t)
	_, err := db.AddHistory(HistoryEntry{Source: SourceWrite, Reader: "R1", UID: "01", Data: "hello", Success: true})
	require.NoError(t, err)
	_, err = db.AddHistory(HistoryEntry{Source: SourceRead, Reader: "R1", UID: "02"})
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, db.ExportHistoryCSV(&buf))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 3)
	assert.True(t, strings.HasPrefix(lines[0], "id,time,source,reader,uid,text,data,success"))

	var rows []HistoryEntry
	require.NoError(t, gocsv.UnmarshalString(buf.String(), &rows))
	require.Len(t, rows, 2)
	assert.Equal(t, "01", rows[0].UID)
	assert.Equal(t, "hello", rows[0].Data)
	assert.True(t, rows[0].Success)
	assert.Equal(t, "02", rows[1].UID)
}
