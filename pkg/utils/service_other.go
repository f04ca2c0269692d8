//go:build !(linux || darwin)

package utils

import (
	"errors"
	"fmt"
	"os"
)

var ErrServiceUnsupported = errors.New("service mode is not supported on this platform")

type ServiceEntry func() (func() error, error)

type Service struct{}

type ServiceArgs struct {
	Entry      ServiceEntry
	PidDir     string
	ConfigPath string
}

func NewService(_ ServiceArgs) *Service {
	return &Service{}
}

func (s *Service) Running() bool {
	return false
}

func (s *Service) ServiceHandler(_ string) int {
	fmt.Fprintln(os.Stderr, ErrServiceUnsupported)
	return 1
}
