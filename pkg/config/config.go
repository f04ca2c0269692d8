package config

import (
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gopkg.in/ini.v1"
)

const UserConfigEnv = "TAPTO_PCSC_CONFIG"
const UserAppPathEnv = "TAPTO_PCSC_APP_PATH"

type ReaderConfig struct {
	Debug           bool   `ini:"debug"`
	ConsoleLogging  bool   `ini:"console_logging"`
	PollInterval    int    `ini:"poll_interval"` // milliseconds
	PreferredReader string `ini:"preferred_reader"`
	Reader          string `ini:"reader,omitempty"`
	Mock            bool   `ini:"mock"`
	ContinuousRead  bool   `ini:"continuous_read"`
}

type ApiConfig struct {
	Enabled   bool   `ini:"enabled"`
	Port      string `ini:"port"`
	Advertise bool   `ini:"advertise"`
}

type UserConfig struct {
	mu      sync.RWMutex
	AppPath string       `ini:"-"`
	IniPath string       `ini:"-"`
	Reader  ReaderConfig `ini:"tapto_pcsc"`
	Api     ApiConfig    `ini:"api"`
}

func Defaults() *UserConfig {
	return &UserConfig{
		Reader: ReaderConfig{
			PollInterval:    DefaultPollMs,
			PreferredReader: DefaultPreferred,
			ContinuousRead:  true,
		},
		Api: ApiConfig{
			Enabled: true,
			Port:    DefaultApiPort,
		},
	}
}

func (c *UserConfig) GetDebug() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Reader.Debug
}

func (c *UserConfig) SetDebug(debug bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Reader.Debug = debug
	ApplyLogLevel(debug)
}

// ApplyLogLevel sets the global zerolog level for the debug setting.
func ApplyLogLevel(debug bool) {
	if debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	} else {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}

func (c *UserConfig) GetConsoleLogging() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Reader.ConsoleLogging
}

func (c *UserConfig) GetPollInterval() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.Reader.PollInterval <= 0 {
		return DefaultPollMs * time.Millisecond
	}
	return time.Duration(c.Reader.PollInterval) * time.Millisecond
}

func (c *UserConfig) SetPollInterval(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Reader.PollInterval = int(d.Milliseconds())
}

func (c *UserConfig) GetPreferredReader() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.Reader.PreferredReader == "" {
		return DefaultPreferred
	}
	return c.Reader.PreferredReader
}

func (c *UserConfig) GetReader() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Reader.Reader
}

func (c *UserConfig) SetReader(reader string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Reader.Reader = reader
}

func (c *UserConfig) GetMock() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Reader.Mock
}

func (c *UserConfig) SetMock(mock bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Reader.Mock = mock
}

func (c *UserConfig) GetContinuousRead() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Reader.ContinuousRead
}

func (c *UserConfig) GetApiEnabled() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Api.Enabled
}

func (c *UserConfig) GetApiPort() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.Api.Port == "" {
		return DefaultApiPort
	}
	return c.Api.Port
}

func (c *UserConfig) SetApiPort(port string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Api.Port = port
}

func (c *UserConfig) GetAdvertise() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Api.Advertise
}

func (c *UserConfig) LoadConfig() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	cfg, err := ini.Load(c.IniPath)
	if err != nil {
		return err
	}

	return cfg.StrictMapTo(c)
}

func (c *UserConfig) SaveConfig() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	cfg := ini.Empty()

	ini.PrettyEqual = true
	ini.PrettyFormat = false

	err := cfg.ReflectFrom(c)
	if err != nil {
		return err
	}

	return cfg.SaveTo(c.IniPath)
}

// NewUserConfig resolves the ini path, writes defaultConfig to disk if no
// file exists yet, and otherwise loads the file over the defaults.
func NewUserConfig(defaultConfig *UserConfig) (*UserConfig, error) {
	iniPath := os.Getenv(UserConfigEnv)

	exePath, err := os.Executable()
	if err != nil {
		return defaultConfig, err
	}

	appPath := os.Getenv(UserAppPathEnv)
	if appPath != "" {
		exePath = appPath
	}

	if iniPath == "" {
		iniPath = filepath.Join(filepath.Dir(exePath), ConfigFilename)
	}

	defaultConfig.AppPath = exePath
	defaultConfig.IniPath = iniPath

	if _, err := os.Stat(iniPath); os.IsNotExist(err) {
		err := defaultConfig.SaveConfig()
		if err != nil {
			log.Error().Err(err).Msg("failed to save new user config to disk")
			return defaultConfig, err
		}

		return defaultConfig, nil
	}

	err = defaultConfig.LoadConfig()
	if err != nil {
		log.Error().Err(err).Msg("failed to load user config")
		return defaultConfig, err
	}

	return defaultConfig, nil
}
