package dingtalk

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
)

// VerifySignature checks the timestamp+sign header pair DingTalk sends
// with webhook requests. The signed string is "timestamp\nsecret" and
// the expected signature is the base64 HMAC-SHA256 keyed by the secret.
// Any empty input fails verification. Configs without a webhook secret
// skip verification entirely; that decision belongs to the caller.
func VerifySignature(timestamp, signature, secret string) bool {
	if timestamp == "" || signature == "" || secret == "" {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(timestamp + "\n" + secret))
	expected := base64.StdEncoding.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}
