package cli

import (
	"bytes"
	"context"
	"flag"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wizzomafizzo/tapto-pcsc/pkg/config"
	"github.com/wizzomafizzo/tapto-pcsc/pkg/database"
	"github.com/wizzomafizzo/tapto-pcsc/pkg/nfc"
	"github.com/wizzomafizzo/tapto-pcsc/pkg/readers"
	"github.com/wizzomafizzo/tapto-pcsc/pkg/readers/mock"
	"github.com/wizzomafizzo/tapto-pcsc/pkg/session"
)

func parse(t *testing.T, args ...string) (*Flags, bool, string) {
	t.Helper()
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	f := SetupFlags(fs)
	var out bytes.Buffer
	exit, err := f.Pre(fs, args, &out)
	require.NoError(t, err)
	return f, exit, out.String()
}

func TestVersionFlag(t *testing.T) {
	_, exit, out := parse(t, "-version")
	assert.True(t, exit)
	assert.Contains(t, out, config.Version)
}

func TestApplyOverrides(t *testing.T) {
	f, exit, _ := parse(t, "-mock", "-reader", "R2", "-interval", "250", "-read")
	assert.False(t, exit)
	assert.True(t, f.ClientAction())

	cfg := config.Defaults()
	f.Apply(cfg)
	assert.True(t, cfg.GetMock())
	assert.Equal(t, "R2", cfg.GetReader())
	assert.Equal(t, 250*time.Millisecond, cfg.GetPollInterval())
}

func TestRunClientCommands(t *testing.T) {
	b := mock.NewDemo()
	c := nfc.NewClient(b, session.Options{})
	cfg := config.Defaults()
	ctx := context.Background()

	tests := []struct {
		args []string
		want []string
	}{
		{[]string{"-list"}, []string{"0: " + mock.DemoReader}},
		{[]string{"-info"}, []string{"State:    present", "Firmware: MOCK1.0"}},
		{[]string{"-read"}, []string{"UID:  04A1B2C3D4E5F6", "Text: hello"}},
		{[]string{"-apdu", "get_uid"}, []string{"04A1B2C3D4E5F69000", "SW: 9000"}},
		{[]string{"-write", "bye"}, []string{"Wrote 3 bytes"}},
		{[]string{"-read"}, []string{"Text: bye"}},
	}

	for _, tt := range tests {
		t.Run(strings.Join(tt.args, " "), func(t *testing.T) {
			f, _, _ := parse(t, tt.args...)
			var out bytes.Buffer
			require.NoError(t, f.RunClient(ctx, c, cfg, &out))
			for _, w := range tt.want {
				assert.Contains(t, out.String(), w)
			}
		})
	}
}

func TestReadWithoutTag(t *testing.T) {
	b := mock.New("R1")
	c := nfc.NewClient(b, session.Options{})
	f, _, _ := parse(t, "-read")

	var out bytes.Buffer
	err := f.RunClient(context.Background(), c, config.Defaults(), &out)
	assert.ErrorIs(t, err, readers.ErrNoTag)
}

func TestWatchPrintsDetections(t *testing.T) {
	b := mock.NewDemo()
	c := nfc.NewClient(b, session.Options{Interval: 10 * time.Millisecond})

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	var out bytes.Buffer
	require.NoError(t, Watch(ctx, c, &out))
	assert.False(t, c.Session().Active())
	assert.Contains(t, out.String(), "UID:  04A1B2C3D4E5F6")
}

func TestExportHistory(t *testing.T) {
	dir := t.TempDir()
	var out bytes.Buffer
	assert.Error(t, ExportHistory(dir, "-", &out))

	db, err := database.Open(dir)
	require.NoError(t, err)
	_, err = db.AddHistory(database.HistoryEntry{UID: "01", Source: database.SourceSession})
	require.NoError(t, err)
	require.NoError(t, db.Close())

	require.NoError(t, ExportHistory(dir, "-", &out))
	assert.Contains(t, out.String(), "session")

	path := filepath.Join(dir, "out.csv")
	require.NoError(t, ExportHistory(dir, path, &out))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(data), "id,"))
}
