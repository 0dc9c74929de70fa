package common

import (
	"net"
	"net/http"
	"strings"
)

// ClientIP returns the host part of r.RemoteAddr. The API router runs chi's
// RealIP middleware first, so X-Forwarded-For and X-Real-IP are already
// folded into RemoteAddr and are not trusted a second time here.
func ClientIP(r *http.Request) string {
	addr := strings.TrimSpace(r.RemoteAddr)
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return host
	}
	return addr
}
