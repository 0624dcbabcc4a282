package security

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
)

// Signer produces and verifies HMAC-SHA256 message authentication codes
// over wire payloads, so a robot connection can prove possession of its
// shared secret without re-sending it on every message.
type Signer struct {
	key []byte
}

// NewSigner builds a Signer bound to the given shared secret.
func NewSigner(key []byte) *Signer {
	return &Signer{key: key}
}

// Sign returns the hex-encoded HMAC-SHA256 of message.
func (s *Signer) Sign(message []byte) string {
	mac := hmac.New(sha256.New, s.key)
	mac.Write(message)
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify reports whether signature is a valid hex-encoded HMAC-SHA256 of
// message under this signer's key, comparing in constant time.
func (s *Signer) Verify(message []byte, signature string) bool {
	expected, err := hex.DecodeString(signature)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, s.key)
	mac.Write(message)
	want := mac.Sum(nil)
	return subtle.ConstantTimeCompare(expected, want) == 1
}
