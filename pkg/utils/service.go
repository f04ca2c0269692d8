//go:build linux || darwin

package utils

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/wizzomafizzo/tapto-pcsc/pkg/config"
)

var (
	ErrServiceRunning    = errors.New("service already running")
	ErrServiceNotRunning = errors.New("service not running")
)

// ServiceEntry starts the service and returns a function which stops it.
type ServiceEntry func() (func() error, error)

type Service struct {
	start   ServiceEntry
	stop    func() error
	pidPath string
	cfgPath string
}

type ServiceArgs struct {
	Entry ServiceEntry
	// PidDir defaults to the app temp dir.
	PidDir string
	// ConfigPath is passed to the background process so it reads the same
	// ini file as the process that launched it.
	ConfigPath string
}

func NewService(args ServiceArgs) *Service {
	dir := args.PidDir
	if dir == "" {
		dir = config.TempDir()
	}
	return &Service{
		start:   args.Entry,
		pidPath: filepath.Join(dir, config.PidFilename),
		cfgPath: args.ConfigPath,
	}
}

func (s *Service) createPidFile() error {
	return os.WriteFile(s.pidPath, []byte(strconv.Itoa(os.Getpid())), 0644)
}

func (s *Service) removePidFile() error {
	err := os.Remove(s.pidPath)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

// Pid returns the process ID of the running service daemon, or 0 if there
// is no pid file.
func (s *Service) Pid() (int, error) {
	data, err := os.ReadFile(s.pidPath)
	if errors.Is(err, os.ErrNotExist) {
		return 0, nil
	} else if err != nil {
		return 0, fmt.Errorf("error reading pid file: %w", err)
	}

	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("error parsing pid: %w", err)
	}

	return pid, nil
}

func (s *Service) Running() bool {
	pid, err := s.Pid()
	if err != nil || pid == 0 {
		return false
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}

	return process.Signal(syscall.Signal(0)) == nil
}

func (s *Service) stopService() error {
	log.Info().Msg("stopping service")

	if s.stop != nil {
		err := s.stop()
		if err != nil {
			log.Error().Err(err).Msg("error stopping service")
			return err
		}
	}

	err := s.removePidFile()
	if err != nil {
		log.Error().Err(err).Msg("error removing pid file")
		return err
	}

	return nil
}

// Run starts the service in the foreground and blocks until SIGINT or
// SIGTERM.
func (s *Service) Run() error {
	if s.Running() {
		return ErrServiceRunning
	}

	log.Info().Msg("starting service")

	err := s.createPidFile()
	if err != nil {
		return fmt.Errorf("error creating pid file: %w", err)
	}

	stop, err := s.start()
	if err != nil {
		if err := s.removePidFile(); err != nil {
			log.Error().Err(err).Msg("error removing pid file")
		}
		return fmt.Errorf("error starting service: %w", err)
	}
	s.stop = stop

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigs)

	sig := <-sigs
	log.Info().Msgf("received %s", sig)

	return s.stopService()
}

// Start launches a new service daemon in the background.
func (s *Service) Start() error {
	if s.Running() {
		return ErrServiceRunning
	}

	binPath := os.Getenv(config.UserAppPathEnv)
	if binPath == "" {
		exePath, err := os.Executable()
		if err != nil {
			return fmt.Errorf("error getting absolute binary path: %w", err)
		}
		binPath = exePath
	}

	cmd := exec.Command(binPath, "-service", "exec")
	cmd.Env = os.Environ()
	if s.cfgPath != "" {
		cmd.Env = append(cmd.Env, fmt.Sprintf("%s=%s", config.UserConfigEnv, s.cfgPath))
	}
	cmd.Env = append(cmd.Env, fmt.Sprintf("%s=%s", config.UserAppPathEnv, binPath))

	err := cmd.Start()
	if err != nil {
		return fmt.Errorf("error starting service: %w", err)
	}

	return cmd.Process.Release()
}

// Stop signals the service daemon to exit.
func (s *Service) Stop() error {
	if !s.Running() {
		return ErrServiceNotRunning
	}

	pid, err := s.Pid()
	if err != nil {
		return err
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		return err
	}

	return process.Signal(syscall.SIGTERM)
}

func (s *Service) Restart() error {
	if s.Running() {
		err := s.Stop()
		if err != nil {
			return err
		}
	}

	for s.Running() {
		time.Sleep(100 * time.Millisecond)
	}

	return s.Start()
}

// ServiceHandler runs a -service subcommand and returns the process exit
// code.
func (s *Service) ServiceHandler(cmd string) int {
	var err error
	switch cmd {
	case "exec":
		err = s.Run()
	case "start":
		err = s.Start()
	case "stop":
		err = s.Stop()
	case "restart":
		err = s.Restart()
	case "status":
		if s.Running() {
			pid, _ := s.Pid()
			fmt.Printf("running (pid %d)\n", pid)
			return 0
		}
		fmt.Println("not running")
		return 1
	default:
		fmt.Printf("Unknown service argument: %s\n", cmd)
		return 1
	}

	if err != nil {
		log.Error().Err(err).Msgf("service %s failed", cmd)
		fmt.Fprintln(os.Stderr, err)
		return 1
	}

	return 0
}
