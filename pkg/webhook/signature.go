// Package webhook authenticates and routes asynchronous platform events.
//
// Two authentication schemes coexist: platform webhooks carry an HMAC
// signature over the raw request body, while worker callbacks present a
// shared secret header compared in constant time.
package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"

	rcerrors "github.com/recapworks/recapd/pkg/errors"
)

// SignaturePrefix is the version tag platform signatures carry.
const SignaturePrefix = "v0"

// Validator verifies platform webhook deliveries against a shared secret.
type Validator struct {
	secret []byte
}

// NewValidator creates a Validator for the given webhook secret.
func NewValidator(secret string) *Validator {
	return &Validator{secret: []byte(secret)}
}

// EncryptedToken answers a CRC challenge: the HMAC of the plain verification
// token, hex encoded. No signature comparison happens in challenge mode; the
// platform verifies the echo itself.
func (v *Validator) EncryptedToken(plainToken string) string {
	mac := hmac.New(sha256.New, v.secret)
	mac.Write([]byte(plainToken))
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify checks a signed delivery. The expected signature is
// "v0=" + hex(HMAC-SHA256(secret, "v0:" + timestamp + ":" + rawBody)),
// computed over the raw body bytes exactly as received: re-serializing the
// parsed JSON can change the byte layout and invalidate the signature.
// A mismatch returns ErrUnauthorized.
func (v *Validator) Verify(timestamp string, rawBody []byte, signatureHeader string) error {
	if signatureHeader == "" {
		return fmt.Errorf("%w: missing signature header", rcerrors.ErrUnauthorized)
	}

	mac := hmac.New(sha256.New, v.secret)
	mac.Write([]byte(SignaturePrefix + ":" + timestamp + ":"))
	mac.Write(rawBody)
	expected := SignaturePrefix + "=" + hex.EncodeToString(mac.Sum(nil))

	if !hmac.Equal([]byte(expected), []byte(signatureHeader)) {
		return fmt.Errorf("%w: signature mismatch", rcerrors.ErrUnauthorized)
	}
	return nil
}

// SecretEqual reports whether a presented callback secret matches the
// configured one, in constant time. This is the authentication for the
// worker-callback path, which carries no HMAC.
func SecretEqual(configured, presented string) bool {
	if configured == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(configured), []byte(presented)) == 1
}
