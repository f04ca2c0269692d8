package config

import (
	"context"
	"os"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
)

// ReloadDelay is how long to wait after a change before reloading, so
// multiple write events from one save collapse into a single reload.
var ReloadDelay = 500 * time.Millisecond

// Watch reloads the ini file whenever it changes on disk and calls onReload
// with the updated config. It blocks until ctx is done.
func (c *UserConfig) Watch(ctx context.Context, onReload func(*UserConfig)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer func(w *fsnotify.Watcher) {
		_ = w.Close()
	}(watcher)

	path := c.IniPath
	err = watcher.Add(path)
	if err != nil {
		return err
	}

	reload := func() {
		err := c.LoadConfig()
		if err != nil {
			log.Error().Err(err).Msg("error reloading config")
			return
		}
		log.Info().Msgf("config reloaded from %s", path)
		ApplyLogLevel(c.GetDebug())
		if onReload != nil {
			onReload(c)
		}
	}

	// a single save usually emits several write events, and editors may
	// replace the file entirely which drops it from the watcher
	var pending <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename) {
				time.Sleep(ReloadDelay)
				if _, err := os.Stat(path); err == nil {
					err = watcher.Add(path)
					if err != nil {
						log.Error().Err(err).Msg("error re-watching config")
					}
					pending = time.After(0)
				} else {
					log.Warn().Msgf("config file removed: %s", path)
				}
			} else if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) {
				if pending == nil {
					pending = time.After(ReloadDelay)
				}
			}
		case <-pending:
			pending = nil
			reload()
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Error().Err(err).Msg("config watcher error")
		}
	}
}
