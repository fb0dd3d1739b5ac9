package ratelimit

import (
	"net/http"
	"strconv"
)

// Rate limit response header names.
const (
	HeaderLimit      = "X-RateLimit-Limit"
	HeaderRemaining  = "X-RateLimit-Remaining"
	HeaderReset      = "X-RateLimit-Reset"
	HeaderRetryAfter = "Retry-After"
)

// Headers formats a result as response headers.
//
// X-RateLimit-Remaining is omitted when the remaining quota is unknown and
// Retry-After is only set on denials. X-RateLimit-Reset is a unix timestamp
// in seconds.
func Headers(r Result) http.Header {
	h := make(http.Header, 4)
	SetHeaders(h, r)
	return h
}

// SetHeaders writes the rate limit headers of r into h, replacing any
// previous values.
func SetHeaders(h http.Header, r Result) {
	h.Set(HeaderLimit, strconv.Itoa(r.Limit))

	if r.Unknown() {
		h.Del(HeaderRemaining)
	} else {
		h.Set(HeaderRemaining, strconv.Itoa(r.Remaining))
	}

	if !r.ResetTime.IsZero() {
		h.Set(HeaderReset, strconv.FormatInt(r.ResetTime.Unix(), 10))
	}

	if !r.Allowed && r.RetryAfter > 0 {
		h.Set(HeaderRetryAfter, strconv.Itoa(r.RetryAfter))
	} else {
		h.Del(HeaderRetryAfter)
	}
}
