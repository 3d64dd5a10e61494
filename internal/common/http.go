package common

import (
	"net"
	"net/http"
	"strings"
)

// ClientIP returns the host part of r.RemoteAddr. Forwarding headers are not
// read here; chi's RealIP middleware has already folded them into RemoteAddr.
func ClientIP(r *http.Request) string {
	if r == nil {
		return ""
	}
	addr := strings.TrimSpace(r.RemoteAddr)
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return host
	}
	return addr
}
