package middleware

import (
	"fmt"
	"time"

	"go.uber.org/zap"
)

// LoggingMiddleware logs every dispatch with its routine id, sizes, and
// duration. Failures log at warn, successes at debug.
func LoggingMiddleware(log *zap.Logger) Middleware {
	if log == nil {
		log = zap.NewNop()
	}
	return func(next DispatchFunc) DispatchFunc {
		return func(routineID uint32, payload []byte) ([]byte, error) {
			start := time.Now()
			resp, err := next(routineID, payload)

			fields := []zap.Field{
				zap.String("routine", fmt.Sprintf("%#x", routineID)),
				zap.Int("requestBytes", len(payload)),
				zap.Duration("duration", time.Since(start)),
			}
			if err != nil {
				log.Warn("dispatch failed", append(fields, zap.Error(err))...)
			} else {
				log.Debug("dispatch completed", append(fields, zap.Int("responseBytes", len(resp)))...)
			}
			return resp, err
		}
	}
}
