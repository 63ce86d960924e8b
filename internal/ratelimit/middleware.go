package ratelimit

import (
	"encoding/json"
	"math"
	"net"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/loksewa/noticemirror/internal/metrics"
)

// RejectMessage is returned to clients that exceed their quota.
const RejectMessage = "Too many requests from this IP, please try again after 1 minute."

type rejection struct {
	Message    string `json:"message"`
	StatusCode int    `json:"statusCode"`
}

// Middleware rejects requests from clients that exhausted their window with 429.
func Middleware(l *Limiter, logger *zap.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := ClientIP(r)
			ok, retryAfter := l.Allow(ip)
			if ok {
				next.ServeHTTP(w, r)
				return
			}
			metrics.ObserveRateLimited()
			logger.Debug("rate limited", zap.String("client_ip", ip), zap.Duration("retry_after", retryAfter))
			w.Header().Set("Retry-After", strconv.Itoa(retrySeconds(retryAfter)))
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusTooManyRequests)
			if err := json.NewEncoder(w).Encode(rejection{
				Message:    RejectMessage,
				StatusCode: http.StatusTooManyRequests,
			}); err != nil {
				logger.Warn("write rate limit response failed", zap.Error(err))
			}
		})
	}
}

// ClientIP returns the host part of the request's remote address.
func ClientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func retrySeconds(d time.Duration) int {
	secs := int(math.Ceil(d.Seconds()))
	if secs < 1 {
		return 1
	}
	return secs
}
