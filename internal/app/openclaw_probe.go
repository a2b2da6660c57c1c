package app

import (
	"net"
	"net/url"
	"strings"
	"time"
)

// openClawAddr returns the host:port the completion endpoint listens on, or
// "" when rawURL is empty or unusable.
func openClawAddr(rawURL string) string {
	rawURL = strings.TrimSpace(rawURL)
	if rawURL == "" {
		return ""
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return ""
	}
	port := u.Port()
	if port == "" {
		switch u.Scheme {
		case "https":
			port = "443"
		default:
			port = "80"
		}
	}
	return net.JoinHostPort(u.Hostname(), port)
}

// probeOpenClaw reports whether something accepts connections at the
// completion endpoint. Runs still start when it does not; this only feeds the
// startup log.
func probeOpenClaw(rawURL string) (addr string, reachable bool) {
	addr = openClawAddr(rawURL)
	if addr == "" {
		return "", false
	}
	return addr, isTCPListening(addr, 300*time.Millisecond)
}

func isTCPListening(addr string, timeout time.Duration) bool {
	if strings.TrimSpace(addr) == "" {
		return false
	}
	c, err := net.DialTimeout("tcp", addr, timeout)
	if err != nil {
		return false
	}
	_ = c.Close()
	return true
}
