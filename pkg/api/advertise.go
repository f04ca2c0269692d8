package api

import (
	"fmt"
	"os"

	"github.com/grandcat/zeroconf"
	"github.com/rs/zerolog/log"

	"github.com/wizzomafizzo/tapto-pcsc/pkg/config"
)

const (
	MDNSServiceType = "_tapto-pcsc._tcp"
	MDNSDomain      = "local."
)

// Advertise registers the API as an mDNS service so clients on the local
// network can find it. Call the returned function to unregister.
func Advertise(port int) (func(), error) {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = config.AppName
	}
	name := fmt.Sprintf("%s (%s)", config.AppName, host)

	txt := []string{
		"version=" + config.Version,
		"protocol=websocket",
		"path=/",
		"rest=/api/v1",
	}

	server, err := zeroconf.Register(name, MDNSServiceType, MDNSDomain, port, txt, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to register mDNS service: %w", err)
	}

	log.Info().Msgf("mDNS service registered: %s on port %d", name, port)

	return server.Shutdown, nil
}
