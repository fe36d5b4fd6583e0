// SPDX-FileCopyrightText: 2026 The gateway-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package courier

import (
	"bufio"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
)

const routeTablePath = "/proc/net/route"

// DefaultGatewayIPv4 returns the IPv4 address of the default route's gateway.
// Couriers act as the network's router, so this is where the cargo relay is
// expected to listen.
func DefaultGatewayIPv4() (string, error) {
	return defaultGatewayFromRouteTable(routeTablePath)
}

func defaultGatewayFromRouteTable(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer func() { _ = f.Close() }()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 3 || fields[1] != "00000000" {
			continue
		}

		// The gateway column is a little-endian hexadecimal IPv4 address.
		raw, err := strconv.ParseUint(fields[2], 16, 32)
		if err != nil {
			continue
		}

		ip := net.IPv4(byte(raw), byte(raw>>8), byte(raw>>16), byte(raw>>24))
		return ip.String(), nil
	}

	if err := scanner.Err(); err != nil {
		return "", err
	}
	return "", fmt.Errorf("no default route in %s", path)
}
