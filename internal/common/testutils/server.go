package testutils

import (
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// GetFreePort returns a free TCP port on the specified host.
func GetFreePort(t *testing.T, host string) int {
	t.Helper()

	ln, err := net.Listen("tcp", net.JoinHostPort(host, "0"))
	require.NoError(t, err, "Setup: failed to listen on tcp")
	defer ln.Close()
	addr, ok := ln.Addr().(*net.TCPAddr)
	require.True(t, ok, "Setup: expected TCPAddr")
	return addr.Port
}

// PortOpen checks if a port is open on the specified TCP host.
func PortOpen(t *testing.T, host string, port int) bool {
	t.Helper()

	conn, err := net.DialTimeout("tcp", net.JoinHostPort(host, fmt.Sprint(port)), 0)
	if err != nil {
		return false
	}
	defer conn.Close()
	return true
}

// WaitForPortClosed waits until the port stops accepting connections, or fails
// the test after the timeout.
func WaitForPortClosed(t *testing.T, host string, port int, timeout time.Duration) {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if !PortOpen(t, host, port) {
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
	require.Fail(t, "port did not close in time", "%s:%d", host, port)
}
