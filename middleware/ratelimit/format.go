package ratelimit

import (
	"strconv"
	"time"
)

func formatInt(v int64) string { return strconv.FormatInt(v, 10) }

// retryAfterSeconds arredonda para cima e nunca retorna menos de 1:
// "Retry-After: 0" faria o cliente tentar de novo imediatamente.
func retryAfterSeconds(d time.Duration) int64 {
	s := int64(d / time.Second)
	if d%time.Second > 0 {
		s++
	}
	if s < 1 {
		s = 1
	}
	return s
}
