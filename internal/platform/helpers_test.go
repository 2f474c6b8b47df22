package platform

import "github.com/meetai/meeting-server-go/internal/util"

func hmacHex(secret string, body []byte) string {
	return util.HmacSHA256(secret, string(body))
}
