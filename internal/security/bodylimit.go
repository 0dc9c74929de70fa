package security

import (
	"bytes"
	"errors"
	"io"
	"net/http"

	"github.com/noah-isme/atomic-shop/internal/common"
)

// DefaultBodyLimit caps cart payloads, which are a few hundred bytes in practice.
const DefaultBodyLimit int64 = 64 << 10

// BodyLimit rejects request bodies larger than Max bytes with 413.
type BodyLimit struct {
	Max int64
}

func (b BodyLimit) max() int64 {
	if b.Max <= 0 {
		return DefaultBodyLimit
	}
	return b.Max
}

// Middleware buffers at most Max bytes of the body before calling next, so
// handlers never see a truncated JSON document.
func (b BodyLimit) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Body == nil || r.Body == http.NoBody {
			next.ServeHTTP(w, r)
			return
		}
		limit := b.max()
		if r.ContentLength > limit {
			tooLarge(w, limit)
			return
		}
		buf, err := io.ReadAll(http.MaxBytesReader(w, r.Body, limit))
		if err != nil {
			var mbe *http.MaxBytesError
			if errors.As(err, &mbe) {
				tooLarge(w, limit)
				return
			}
			common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid request body", nil)
			return
		}
		_ = r.Body.Close()
		r.Body = io.NopCloser(bytes.NewReader(buf))
		r.ContentLength = int64(len(buf))
		next.ServeHTTP(w, r)
	})
}

func tooLarge(w http.ResponseWriter, limit int64) {
	common.JSONError(w, http.StatusRequestEntityTooLarge, "PAYLOAD_TOO_LARGE", "request body too large", map[string]int64{"maxBytes": limit})
}
