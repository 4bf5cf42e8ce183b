package identity

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"net/url"
	"strings"
)

// SessionToken extracts the session token from a cookie value of the form
// "token.signature". With a secret the base64 HMAC-SHA256 signature of the
// token must match; without one the signature is ignored. An invalid cookie
// yields "".
func SessionToken(value string, secret []byte) string {
	if decoded, err := url.PathUnescape(value); err == nil {
		value = decoded
	}

	i := strings.LastIndexByte(value, '.')
	if i < 0 {
		if len(secret) > 0 {
			return ""
		}
		return value
	}

	token, sig := value[:i], value[i+1:]
	if len(secret) == 0 {
		return token
	}
	if hmac.Equal([]byte(sig), []byte(SignToken(token, secret))) {
		return token
	}
	return ""
}

// SignToken returns the cookie signature of token.
func SignToken(token string, secret []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(token))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}
