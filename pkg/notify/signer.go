package notify

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// SignatureHeader carries the hex HMAC-SHA256 of the request body.
const SignatureHeader = "X-Sales-Signature"

// Signer signs webhook payloads. Each subscription gets its own key
// derived from the master secret via HKDF, so one subscriber's leaked
// key never verifies another subscriber's traffic.
type Signer struct {
	master []byte
}

// NewSigner creates a signer from the master secret.
func NewSigner(master []byte) (*Signer, error) {
	if len(master) == 0 {
		return nil, fmt.Errorf("notify: signer requires a non-empty master secret")
	}
	return &Signer{master: master}, nil
}

func (s *Signer) subscriptionKey(subscriptionID string) ([]byte, error) {
	r := hkdf.New(sha256.New, s.master, []byte("salesagent-webhook-kdf"), []byte(subscriptionID))
	key := make([]byte, 32)
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, fmt.Errorf("notify: derive key for %s: %w", subscriptionID, err)
	}
	return key, nil
}

// Sign returns the hex HMAC-SHA256 of payload under the subscription's
// derived key.
func (s *Signer) Sign(subscriptionID string, payload []byte) (string, error) {
	key, err := s.subscriptionKey(subscriptionID)
	if err != nil {
		return "", err
	}
	mac := hmac.New(sha256.New, key)
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil)), nil
}

// Verify checks a received signature in constant time. Receivers (and
// the webhook sink) use this to authenticate deliveries.
func (s *Signer) Verify(subscriptionID string, payload []byte, signature string) bool {
	expected, err := s.Sign(subscriptionID, payload)
	if err != nil {
		return false
	}
	return hmac.Equal([]byte(expected), []byte(signature))
}
