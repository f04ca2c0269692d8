package service

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wizzomafizzo/tapto-pcsc/pkg/config"
	"github.com/wizzomafizzo/tapto-pcsc/pkg/database"
	"github.com/wizzomafizzo/tapto-pcsc/pkg/readers/mock"
	"github.com/wizzomafizzo/tapto-pcsc/pkg/tokens"
)

func testConfig() *config.UserConfig {
	cfg := config.Defaults()
	cfg.Api.Enabled = false
	cfg.SetPollInterval(10 * time.Millisecond)
	return cfg
}

func history(t *testing.T, s *Service) []database.HistoryEntry {
	t.Helper()
	entries, err := s.db.GetHistory(0)
	require.NoError(t, err)
	return entries
}

func TestServiceRecordsEachScanOnce(t *testing.T) {
	b := mock.New("R1")
	s, err := New(Args{Config: testConfig(), Backend: b, DataDir: t.TempDir()})
	require.NoError(t, err)
	require.NoError(t, s.Start())

	assert.True(t, s.Client().Session().Active())

	b.PlaceTag("R1", mock.Tag{UID: "04A1B2", Data: "hello"})
	assert.Eventually(t, func() bool { return len(history(t, s)) == 1 }, time.Second, 10*time.Millisecond)

	// tag stays on the reader for many ticks
	time.Sleep(100 * time.Millisecond)
	entries := history(t, s)
	require.Len(t, entries, 1)
	assert.Equal(t, "04A1B2", entries[0].UID)
	assert.Equal(t, "R1", entries[0].Reader)
	assert.Equal(t, database.SourceSession, entries[0].Source)

	b.RemoveTag("R1")
	time.Sleep(3 * minDedupeWindow)
	b.PlaceTag("R1", mock.Tag{UID: "04A1B2", Data: "hello"})
	assert.Eventually(t, func() bool { return len(history(t, s)) == 2 }, time.Second, 10*time.Millisecond)

	b.PlaceTag("R1", mock.Tag{UID: "0C0D", Data: "other"})
	assert.Eventually(t, func() bool { return len(history(t, s)) == 3 }, time.Second, 10*time.Millisecond)
	assert.Equal(t, "0C0D", s.State().GetLastScanned().UID)

	require.NoError(t, s.Stop())
	assert.False(t, s.Client().Session().Active())
	assert.True(t, b.Closed())
}

func TestServiceWithoutContinuousRead(t *testing.T) {
	cfg := testConfig()
	cfg.Reader.ContinuousRead = false
	b := mock.New("R1")

	stop, err := Start(cfg, b, t.TempDir())
	require.NoError(t, err)

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 0, b.Calls(mock.OpList))

	require.NoError(t, stop())
}

func TestStateSeen(t *testing.T) {
	st := NewState()
	now := time.Now()
	window := time.Second
	tok := tokens.Token{UID: "01", Data: "a"}

	assert.Nil(t, st.GetActiveCard())
	assert.True(t, st.Seen(tok, now, window))
	assert.False(t, st.Seen(tok, now.Add(500*time.Millisecond), window))
	assert.False(t, st.Seen(tok, now.Add(1400*time.Millisecond), window))
	assert.True(t, st.Seen(tok, now.Add(3*time.Second), window))

	other := tokens.Token{UID: "01", Data: "b"}
	assert.True(t, st.Seen(other, now.Add(3100*time.Millisecond), window))
	assert.Equal(t, "b", st.GetActiveCard().Data)
}

func TestStateActiveCardExpires(t *testing.T) {
	st := NewState()
	tok := tokens.Token{UID: "01"}

	assert.True(t, st.Seen(tok, time.Now().Add(-5*time.Second), time.Second))
	assert.Nil(t, st.GetActiveCard())
	assert.Equal(t, "01", st.GetLastScanned().UID)

	assert.True(t, st.Seen(tok, time.Now(), time.Second))
	require.NotNil(t, st.GetActiveCard())
	assert.Equal(t, "01", st.GetActiveCard().UID)
}
