package platform

import (
	"github.com/meetai/meeting-server-go/internal/util"
)

// VerifyWebhook checks an HMAC-SHA256 hex signature over the exact raw body.
func VerifyWebhook(secret string, rawBody []byte, signature string) bool {
	if signature == "" {
		return false
	}
	expected := util.HmacSHA256(secret, string(rawBody))
	return util.ConstantTimeEqual(expected, signature)
}
