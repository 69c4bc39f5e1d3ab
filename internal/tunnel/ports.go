package tunnel

import (
	"fmt"
	"net"
	"strconv"
	"time"
)

// FreeLocalPort asks the kernel for an unused port by binding to port 0 and
// releases it immediately. The port can be taken by someone else before the
// forward binds it; that surfaces as a normal start failure.
func FreeLocalPort() (int, error) {
	l, err := net.Listen("tcp", ":0")
	if err != nil {
		return 0, fmt.Errorf("probe local port: %w", err)
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port, nil
}

// PortInUse reports whether something accepts connections on the local port.
func PortInUse(port int) bool {
	conn, err := net.DialTimeout("tcp", net.JoinHostPort("localhost", strconv.Itoa(port)), 500*time.Millisecond)
	if err != nil {
		return false
	}
	conn.Close()
	return true
}
