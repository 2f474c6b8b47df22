package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/meetai/meeting-server-go/internal/audit"
	apperrors "github.com/meetai/meeting-server-go/internal/errors"
	"github.com/meetai/meeting-server-go/internal/httputil"
	"github.com/meetai/meeting-server-go/internal/metrics"
	"github.com/meetai/meeting-server-go/internal/platform"
	"github.com/meetai/meeting-server-go/internal/util"
)

const (
	WebhookBodyContextKey contextKey = "webhookBody"

	SignatureHeader = "X-Signature"
	APIKeyHeader    = "X-Api-Key"
)

// GetWebhookBody returns the verified raw webhook body.
func GetWebhookBody(ctx context.Context) []byte {
	if body, ok := ctx.Value(WebhookBodyContextKey).([]byte); ok {
		return body
	}
	return nil
}

// WebhookVerifier authenticates platform webhooks: the API key header must
// match and the signature must be the HMAC of the exact raw body.
type WebhookVerifier struct {
	apiKey string
	secret string
}

func NewWebhookVerifier(apiKey, secret string) *WebhookVerifier {
	return &WebhookVerifier{apiKey: apiKey, secret: secret}
}

func (m *WebhookVerifier) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		signature := r.Header.Get(SignatureHeader)
		apiKey := r.Header.Get(APIKeyHeader)
		if signature == "" || apiKey == "" {
			m.reject(w, r, "Missing signature or API key")
			return
		}

		body, err := io.ReadAll(r.Body)
		if limit, ok := isTooLarge(err); ok {
			writeTooLarge(w, r, limit)
			return
		}
		if err != nil {
			log.Error().Err(err).Msg("webhook verifier: failed to read body")
			httputil.WriteError(w, apperrors.InvalidPayload("Failed to read request body"))
			return
		}
		r.Body = io.NopCloser(bytes.NewReader(body))

		if !util.ConstantTimeEqual(apiKey, m.apiKey) || !platform.VerifyWebhook(m.secret, body, signature) {
			m.reject(w, r, "Invalid webhook signature")
			return
		}

		if !json.Valid(body) {
			metrics.WebhookEventsTotal.WithLabelValues("unknown", "invalid").Inc()
			log.Warn().Int("bytes", len(body)).Msg("webhook verifier: invalid JSON body")
			httputil.WriteError(w, apperrors.InvalidPayload("Invalid JSON"))
			return
		}

		ctx := context.WithValue(r.Context(), WebhookBodyContextKey, body)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (m *WebhookVerifier) reject(w http.ResponseWriter, r *http.Request, message string) {
	metrics.WebhookEventsTotal.WithLabelValues("unknown", "unauthorized").Inc()
	audit.LogFromRequest(r, audit.Event{
		Type:    audit.EventWebhookAuthFailure,
		Details: map[string]interface{}{"reason": message},
	})
	httputil.WriteError(w, apperrors.Unauthorized(message))
}
