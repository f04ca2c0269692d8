/*
TapTo
Copyright (C) 2024 Callan Barrett

This file is part of TapTo.

TapTo is free software: you can redistribute it and/or modify
it under the terms of the GNU General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

TapTo is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU General Public License for more details.

You should have received a copy of the GNU General Public License
along with TapTo.  If not, see <http://www.gnu.org/licenses/>.
*/

package cli

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/wizzomafizzo/tapto-pcsc/pkg/apdu"
	"github.com/wizzomafizzo/tapto-pcsc/pkg/api/client"
	"github.com/wizzomafizzo/tapto-pcsc/pkg/config"
	"github.com/wizzomafizzo/tapto-pcsc/pkg/database"
	"github.com/wizzomafizzo/tapto-pcsc/pkg/nfc"
	"github.com/wizzomafizzo/tapto-pcsc/pkg/readers"
	"github.com/wizzomafizzo/tapto-pcsc/pkg/tokens"
)

const commandTimeout = 10 * time.Second

type Flags struct {
	List       *bool
	Info       *bool
	Read       *bool
	Write      *string
	Apdu       *string
	Watch      *bool
	Daemon     *bool
	Service    *string
	Api        *string
	HistoryCsv *string
	Mock       *bool
	Reader     *string
	Interval   *int
	Version    *bool
}

// SetupFlags defines all CLI flags on fs.
func SetupFlags(fs *flag.FlagSet) *Flags {
	return &Flags{
		List: fs.Bool(
			"list",
			false,
			"list connected readers",
		),
		Info: fs.Bool(
			"info",
			false,
			"print reader state and firmware",
		),
		Read: fs.Bool(
			"read",
			false,
			"read the tag on the reader",
		),
		Write: fs.String(
			"write",
			"",
			"write text to the tag on the reader",
		),
		Apdu: fs.String(
			"apdu",
			"",
			"send a raw hex APDU (or a command name like GET_UID) and print the response",
		),
		Watch: fs.Bool(
			"watch",
			false,
			"continuously read tags and print each detection",
		),
		Daemon: fs.Bool(
			"daemon",
			false,
			"run the service in the foreground",
		),
		Service: fs.String(
			"service",
			"",
			"manage the background service (start, stop, restart, status)",
		),
		Api: fs.String(
			"api",
			"",
			"send method and params to API and print response",
		),
		HistoryCsv: fs.String(
			"history-csv",
			"",
			"export scan history as CSV to file (- for stdout)",
		),
		Mock: fs.Bool(
			"mock",
			false,
			"use a simulated reader instead of PC/SC",
		),
		Reader: fs.String(
			"reader",
			"",
			"reader name, defaults to the configured or first reader",
		),
		Interval: fs.Int(
			"interval",
			0,
			"poll interval in milliseconds for -watch",
		),
		Version: fs.Bool(
			"version",
			false,
			"print version and exit",
		),
	}
}

// Pre runs flag parsing and actions any immediate flags that don't require
// environment setup. Returns true if the program should exit.
func (f *Flags) Pre(fs *flag.FlagSet, args []string, out io.Writer) (bool, error) {
	err := fs.Parse(args)
	if err != nil {
		return true, err
	}

	if *f.Version {
		_, _ = fmt.Fprintf(out, "%s v%s\n", config.AppName, config.Version)
		return true, nil
	}

	return false, nil
}

// Apply copies flag overrides into the loaded config.
func (f *Flags) Apply(cfg *config.UserConfig) {
	if *f.Mock {
		cfg.SetMock(true)
	}
	if *f.Reader != "" {
		cfg.SetReader(*f.Reader)
	}
	if *f.Interval > 0 {
		cfg.SetPollInterval(time.Duration(*f.Interval) * time.Millisecond)
	}
}

// ClientAction reports whether a flag asks for a one-shot reader command.
func (f *Flags) ClientAction() bool {
	return *f.List || *f.Info || *f.Read || *f.Write != "" || *f.Apdu != "" || *f.Watch
}

// Post actions all flags that need the environment set up. Returns true if
// a flag was handled.
func (f *Flags) Post(cfg *config.UserConfig, dataDir string, out io.Writer) (bool, error) {
	if *f.Api != "" {
		ps := strings.SplitN(*f.Api, ":", 2)
		method := ps[0]
		params := ""
		if len(ps) > 1 {
			params = ps[1]
		}

		resp, err := client.LocalClient(cfg, method, params)
		if err != nil {
			log.Error().Err(err).Msg("error calling API")
			return true, fmt.Errorf("error calling API: %w", err)
		}

		_, _ = fmt.Fprintln(out, resp)
		return true, nil
	} else if *f.HistoryCsv != "" {
		return true, ExportHistory(dataDir, *f.HistoryCsv, out)
	}

	return false, nil
}

// ExportHistory writes the scan history database in dataDir to path as CSV.
func ExportHistory(dataDir string, path string, out io.Writer) error {
	if !database.DbExists(dataDir) {
		return errors.New("no history database found")
	}

	db, err := database.Open(dataDir)
	if err != nil {
		return fmt.Errorf("error opening database: %w", err)
	}
	defer func(db *database.Database) {
		_ = db.Close()
	}(db)

	if path == "-" {
		return db.ExportHistoryCSV(out)
	}

	file, err := os.Create(path)
	if err != nil {
		return err
	}

	err = db.ExportHistoryCSV(file)
	if err != nil {
		_ = file.Close()
		return err
	}

	return file.Close()
}

// RunClient runs whichever one-shot reader command was requested.
func (f *Flags) RunClient(ctx context.Context, c *nfc.Client, cfg *config.UserConfig, out io.Writer) error {
	if *f.List {
		return List(ctx, c, out)
	}

	if *f.Watch {
		ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
		defer stop()
		return Watch(ctx, c, out)
	}

	ctx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()

	reader, err := c.ResolveReader(ctx, *f.Reader, cfg.GetReader())
	if err != nil {
		return err
	}

	switch {
	case *f.Info:
		return Info(ctx, c, reader, out)
	case *f.Read:
		return Read(ctx, c, reader, out)
	case *f.Write != "":
		return Write(ctx, c, reader, *f.Write, out)
	case *f.Apdu != "":
		return Transmit(ctx, c, reader, *f.Apdu, out)
	}

	return nil
}

func List(ctx context.Context, c *nfc.Client, out io.Writer) error {
	rs, err := c.ListReaders(ctx)
	if err != nil {
		return err
	}

	if len(rs) == 0 {
		_, _ = fmt.Fprintln(out, "No readers connected")
		return nil
	}

	for i, r := range rs {
		_, _ = fmt.Fprintf(out, "%d: %s\n", i, r)
	}

	return nil
}

func Info(ctx context.Context, c *nfc.Client, reader string, out io.Writer) error {
	info, err := c.GetReaderInfo(ctx, reader)
	if err != nil {
		return err
	}

	_, _ = fmt.Fprintf(out, "Reader:   %s\n", info.Name)
	_, _ = fmt.Fprintf(out, "State:    %s\n", info.State)
	if info.Firmware != "" {
		_, _ = fmt.Fprintf(out, "Firmware: %s\n", info.Firmware)
	}
	if info.ATR != "" {
		_, _ = fmt.Fprintf(out, "ATR:      %s\n", info.ATR)
	}

	keys := make([]string, 0, len(info.Fields))
	for k := range info.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		_, _ = fmt.Fprintf(out, "%s: %s\n", k, info.Fields[k])
	}

	return nil
}

func printToken(out io.Writer, t tokens.Token) {
	_, _ = fmt.Fprintf(out, "UID:  %s\n", t.UID)
	if t.Text != "" {
		_, _ = fmt.Fprintf(out, "Text: %s\n", t.Text)
	} else if t.Data != "" {
		_, _ = fmt.Fprintf(out, "Data: %s\n", t.Data)
	}
}

func Read(ctx context.Context, c *nfc.Client, reader string, out io.Writer) error {
	t, err := c.ReadTag(ctx, reader)
	if err != nil {
		return err
	}
	if t.Empty() {
		return readers.ErrNoTag
	}

	printToken(out, t.WithReader(reader))

	return nil
}

func Write(ctx context.Context, c *nfc.Client, reader string, text string, out io.Writer) error {
	ok, err := c.WriteTag(ctx, reader, text)
	if err != nil {
		return err
	}
	if !ok {
		return errors.New("write failed")
	}

	_, _ = fmt.Fprintf(out, "Wrote %d bytes to tag on %s\n", len(text), reader)

	return nil
}

// Transmit sends a raw APDU. cmd may also be the name of a known command.
func Transmit(ctx context.Context, c *nfc.Client, reader string, cmd string, out io.Writer) error {
	if named, ok := apdu.Commands[strings.ToUpper(cmd)]; ok {
		cmd = named
	}

	resp, err := c.SendRawCommand(ctx, reader, cmd)
	if err != nil {
		return err
	}

	_, _ = fmt.Fprintln(out, resp)

	bs, err := apdu.Decode(resp)
	if err != nil {
		return nil
	}
	if r, err := apdu.ParseResponse(bs); err == nil {
		_, _ = fmt.Fprintf(out, "SW: %04X\n", r.StatusWord())
	}

	return nil
}

// Watch prints every detection until ctx is done.
func Watch(ctx context.Context, c *nfc.Client, out io.Writer) error {
	_, _ = fmt.Fprintf(out, "Watching for tags every %s, press Ctrl+C to stop\n", c.Session().Interval())

	h, err := c.StartContinuousRead(func(t tokens.Token) {
		_, _ = fmt.Fprintf(out, "[%s] %s\n", t.ScanTime.Format(time.TimeOnly), t.Reader)
		printToken(out, t)
	})
	if err != nil {
		return err
	}

	<-ctx.Done()
	h.Stop()
	<-h.Done()

	return nil
}
