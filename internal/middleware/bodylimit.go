package middleware

import (
	"errors"
	"net/http"

	"github.com/rs/zerolog/log"

	apperrors "github.com/meetai/meeting-server-go/internal/errors"
	"github.com/meetai/meeting-server-go/internal/httputil"
)

const (
	// WebhookMaxBodySize bounds platform event envelopes.
	WebhookMaxBodySize = 512 << 10
	// APIMaxBodySize bounds meeting API requests, which carry only small JSON objects.
	APIMaxBodySize = 64 << 10
)

type BodyLimitMiddleware struct {
	maxSize int64
}

func NewBodyLimitMiddleware(maxSize int64) *BodyLimitMiddleware {
	if maxSize <= 0 {
		maxSize = APIMaxBodySize
	}
	return &BodyLimitMiddleware{maxSize: maxSize}
}

func (m *BodyLimitMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Body != nil && r.ContentLength > m.maxSize {
			writeTooLarge(w, r, m.maxSize)
			return
		}

		// Chunked bodies have no declared length; readers see *http.MaxBytesError.
		r.Body = http.MaxBytesReader(w, r.Body, m.maxSize)
		next.ServeHTTP(w, r)
	})
}

// isTooLarge reports whether err came from a MaxBytesReader limit.
func isTooLarge(err error) (int64, bool) {
	var maxErr *http.MaxBytesError
	if errors.As(err, &maxErr) {
		return maxErr.Limit, true
	}
	return 0, false
}

func writeTooLarge(w http.ResponseWriter, r *http.Request, limit int64) {
	log.Warn().
		Str("path", r.URL.Path).
		Int64("contentLength", r.ContentLength).
		Int64("limit", limit).
		Msg("request body too large")
	httputil.WriteError(w, apperrors.PayloadTooLarge(limit))
}
