package probe

import (
	"bufio"
	"encoding/hex"
	"fmt"
	"io"
	"net"
	"os"
	"strings"
)

// discoverGateway finds the default gateway for NAT-PMP. It reads the system
// routing table where available and falls back to assuming the router sits
// at .1 of the local subnet.
func discoverGateway() (net.IP, error) {
	gateway, err := readDefaultGateway()
	if err == nil && gateway != nil {
		return gateway, nil
	}
	return discoverGatewayFallback()
}

// readDefaultGateway reads the default gateway from /proc/net/route.
// Returns nil, nil when the file does not exist (non-Linux systems) or no
// default route is present.
func readDefaultGateway() (net.IP, error) {
	file, err := os.Open("/proc/net/route")
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to open routing table: %w", err)
	}
	defer file.Close()

	return parseRouteTable(file)
}

// parseRouteTable scans a /proc/net/route style table for the default route
// and returns its gateway. Routes with gateway 0.0.0.0 are local and
// skipped.
func parseRouteTable(r io.Reader) (net.IP, error) {
	scanner := bufio.NewScanner(r)

	if !scanner.Scan() {
		return nil, fmt.Errorf("empty routing table")
	}

	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 3 {
			continue
		}

		if fields[1] != "00000000" {
			continue
		}
		gateway, err := parseHexIP(fields[2])
		if err != nil {
			return nil, fmt.Errorf("failed to parse gateway: %w", err)
		}
		if !gateway.Equal(net.IPv4zero) {
			return gateway, nil
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("error reading routing table: %w", err)
	}
	return nil, nil
}

// parseHexIP converts the little-endian hex IP format of /proc/net/route
// (e.g. "0101A8C0" = 192.168.1.1) to net.IP.
func parseHexIP(hexIP string) (net.IP, error) {
	if len(hexIP) != 8 {
		return nil, fmt.Errorf("invalid hex IP length: %d", len(hexIP))
	}

	bytes, err := hex.DecodeString(hexIP)
	if err != nil {
		return nil, fmt.Errorf("invalid hex IP: %w", err)
	}
	return net.IPv4(bytes[3], bytes[2], bytes[1], bytes[0]), nil
}

// discoverGatewayFallback assumes the gateway is .1 in the subnet the
// default route uses, which holds for most home and office networks.
func discoverGatewayFallback() (net.IP, error) {
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		return nil, fmt.Errorf("failed to determine local IP: %w", err)
	}
	defer conn.Close()

	localAddr, ok := conn.LocalAddr().(*net.UDPAddr)
	if !ok {
		return nil, fmt.Errorf("unexpected local address type: %T", conn.LocalAddr())
	}
	ip := localAddr.IP.To4()
	if ip == nil {
		return nil, fmt.Errorf("not IPv4 address")
	}
	return net.IPv4(ip[0], ip[1], ip[2], 1), nil
}
