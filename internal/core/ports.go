package core

import (
	"fmt"
	"net"
	"strconv"
)

// Fallback range tried when a preferred port is taken
const (
	DynamicPortStart = 12100
	DynamicPortEnd   = 12999
)

// IsPortAvailable checks if a port can be bound on host
func IsPortAvailable(host string, port int) bool {
	ln, err := net.Listen("tcp", net.JoinHostPort(host, strconv.Itoa(port)))
	if err != nil {
		return false
	}
	ln.Close()
	return true
}

// ResolvePort returns preferred if it is free on host, otherwise the first
// free port of the dynamic range
func ResolvePort(host string, preferred int) (int, error) {
	if preferred > 0 && IsPortAvailable(host, preferred) {
		return preferred, nil
	}
	for port := DynamicPortStart; port <= DynamicPortEnd; port++ {
		if port != preferred && IsPortAvailable(host, port) {
			return port, nil
		}
	}
	return 0, fmt.Errorf("no available port on %s (preferred %d)", host, preferred)
}
