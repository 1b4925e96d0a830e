package valr

import (
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"strconv"
)

// Sign computes the request signature: hex(HMAC-SHA512(secret,
// timestamp || verb || path || body)). A nil body is left out entirely.
func Sign(secret string, timestampMs int64, verb, path string, body []byte) (string, error) {
	if secret == "" {
		return "", &SigningError{Err: ErrInvalidKey}
	}

	mac := hmac.New(sha512.New, []byte(secret))
	mac.Write([]byte(strconv.FormatInt(timestampMs, 10)))
	mac.Write([]byte(verb))
	mac.Write([]byte(path))
	if body != nil {
		mac.Write(body)
	}
	return hex.EncodeToString(mac.Sum(nil)), nil
}
