package middleware

import (
	"errors"
	"fmt"

	"golang.org/x/time/rate"
)

// ErrRateLimited marks a dispatch rejected by the token bucket.
var ErrRateLimited = errors.New("middleware: rate limit exceeded")

// RateLimitMiddleware rejects dispatches beyond r requests per second with
// bursts up to burst. A rejected request fails dispatch, so the server drops
// it without response bytes, the same as any other request it cannot serve.
func RateLimitMiddleware(r float64, burst int) Middleware {
	limiter := rate.NewLimiter(rate.Limit(r), burst)
	return func(next DispatchFunc) DispatchFunc {
		return func(routineID uint32, payload []byte) ([]byte, error) {
			if !limiter.Allow() {
				return nil, fmt.Errorf("%w: routine %#x", ErrRateLimited, routineID)
			}
			return next(routineID, payload)
		}
	}
}
