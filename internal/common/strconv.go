package common

import (
	"math"
	"net/http"
	"strconv"
	"strings"
)

// QueryFloat reads an optional float query parameter in [0, max].
// A missing parameter yields nil; a malformed or out-of-range one yields a
// BadRequest error.
func QueryFloat(r *http.Request, key string, max float64) (*float64, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return nil, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return nil, BadRequest(key+" must be a number", nil)
	}
	if v < 0 || v > max {
		return nil, BadRequest(key+" must be between 0 and "+strconv.FormatFloat(max, 'f', -1, 64), nil)
	}
	return &v, nil
}
