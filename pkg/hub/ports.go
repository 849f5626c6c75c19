package hub

import (
	"fmt"
	"net"
	"time"
)

// Port binding policy: the preferred port is retried a few times with
// back-off (dev servers restart fast and TIME_WAIT lingers), then the scan
// walks up the port space, skipping the sibling endpoint's port, until a
// bind succeeds.
const (
	preferredRetries = 5
	retryBackoff     = 120 * time.Millisecond
	maxPort          = 65535
)

// bindLoopback binds a TCP listener on 127.0.0.1 following the policy
// above. skip is the port already taken by the sibling endpoint (0 for
// none). Returns the listener and the resolved port.
func bindLoopback(preferred, skip int) (net.Listener, int, error) {
	for attempt := 0; attempt < preferredRetries; attempt++ {
		if ln, err := listenLoopback(preferred); err == nil {
			return ln, preferred, nil
		}
		time.Sleep(retryBackoff)
	}

	for port := preferred + 1; port <= maxPort; port++ {
		if port == skip {
			continue
		}
		if ln, err := listenLoopback(port); err == nil {
			return ln, port, nil
		}
	}
	return nil, 0, fmt.Errorf("%w: no free port in %d-%d", ErrPortExhausted, preferred, maxPort)
}

func listenLoopback(port int) (net.Listener, error) {
	return net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", port))
}
