// Package signature implements the vendor's v2 request-signing scheme.
//
// Every signed request carries a timestamp, a device identifier and an
// HMAC-SHA256 signature computed over an obfuscated form of those values
// plus the SHA-256 digest of the request body. The obfuscation is a fixed
// substitution mandated by the protocol, not encryption.
package signature

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// Sign computes the hex-encoded signature for one outbound request.
//
// The signing message is rotate(timestamp) "." rotate(deviceID) "."
// rotate(hex(sha256(body))), and the signature is HMAC-SHA256 over that
// message keyed with the shared secret. Deterministic for fixed inputs.
func Sign(timestamp, deviceID string, body []byte, secret string) string {
	digest := sha256.Sum256(body)
	bodyHash := hex.EncodeToString(digest[:])

	message := rotate(timestamp) + "." + rotate(deviceID) + "." + rotate(bodyHash)

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(message))
	return hex.EncodeToString(mac.Sum(nil))
}

// Timestamp renders t the way the vendor expects it in the timestamp
// header and in the signing message: ISO-8601 in UTC.
func Timestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

// rotate applies the protocol's substitution cipher: letters rotate by 13
// within their case, decimal digits rotate by 5, everything else passes
// through. Letters are self-inverse; digits are self-inverse too because
// 2*5 mod 10 == 0.
func rotate(s string) string {
	out := []byte(s)
	for i, c := range out {
		switch {
		case c >= 'A' && c <= 'Z':
			out[i] = 'A' + (c-'A'+13)%26
		case c >= 'a' && c <= 'z':
			out[i] = 'a' + (c-'a'+13)%26
		case c >= '0' && c <= '9':
			out[i] = '0' + (c-'0'+5)%10
		}
	}
	return string(out)
}
