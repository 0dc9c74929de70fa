package security

import (
	"net/http"
	"strconv"
)

// Headers sets response hardening headers. Cart responses carry per-shopper
// state, so they are also marked uncacheable.
type Headers struct {
	Enable     bool
	EnableHSTS bool
	HSTSMaxAge int
}

// Middleware implements chi middleware.
func (h Headers) Middleware(next http.Handler) http.Handler {
	if !h.Enable {
		return next
	}
	hsts := ""
	if h.EnableHSTS {
		maxAge := h.HSTSMaxAge
		if maxAge <= 0 {
			maxAge = 31536000
		}
		hsts = "max-age=" + strconv.Itoa(maxAge) + "; includeSubDomains"
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		headers := w.Header()
		headers.Set("X-Content-Type-Options", "nosniff")
		headers.Set("X-Frame-Options", "DENY")
		headers.Set("Referrer-Policy", "no-referrer")
		headers.Set("Cache-Control", "no-store")
		if hsts != "" && r.TLS != nil {
			headers.Set("Strict-Transport-Security", hsts)
		}
		next.ServeHTTP(w, r)
	})
}
