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

package utils

import (
	"net"

	"github.com/rs/zerolog/log"
	"golang.org/x/exp/slices"
)

// SortedKeys returns the keys of m in ascending order.
func SortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

// ApiAddress is the websocket URL other machines can use to reach the API
// on port. The host falls back to localhost when there is no route out.
func ApiAddress(port string) string {
	host := "localhost"
	if ip, err := outboundIP(); err != nil {
		log.Debug().Err(err).Msg("no outbound route, using localhost")
	} else {
		host = ip.String()
	}
	return "ws://" + net.JoinHostPort(host, port) + "/"
}

// outboundIP dials a UDP socket to find the source address the kernel
// would pick. Nothing is sent.
func outboundIP() (net.IP, error) {
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = conn.Close()
	}()

	addr, ok := conn.LocalAddr().(*net.UDPAddr)
	if !ok {
		return nil, &net.AddrError{Err: "unexpected local address", Addr: conn.LocalAddr().String()}
	}
	return addr.IP, nil
}
