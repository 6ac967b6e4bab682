package receipts

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"
)

// Receipts stay verifiable for 30 days after issuance.
const signatureValidity = 30 * 24 * time.Hour

// Signer produces and checks HMAC-SHA256 signatures over the canonical
// JSON encoding of a receipt payload. A nil Signer signs nothing and
// verifies nothing, which is what an unconfigured secret degrades to.
type Signer struct {
	key []byte
}

// NewSigner returns a Signer for the given secret, or nil when the secret
// is empty.
func NewSigner(secret string) *Signer {
	if secret == "" {
		return nil
	}
	return &Signer{key: []byte(secret)}
}

func (s *Signer) mac(payload interface{}) (string, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}
	m := hmac.New(sha256.New, s.key)
	m.Write(data)
	return hex.EncodeToString(m.Sum(nil)), nil
}

// Sign returns the payload signature plus its issue and expiry timestamps.
func (s *Signer) Sign(payload interface{}) (signature string, issuedAt, expiresAt time.Time, err error) {
	if s == nil {
		return "", time.Time{}, time.Time{}, nil
	}
	sig, err := s.mac(payload)
	if err != nil {
		return "", time.Time{}, time.Time{}, err
	}
	now := time.Now().UTC()
	return sig, now, now.Add(signatureValidity), nil
}

// Verify reports whether signature matches the payload.
func (s *Signer) Verify(payload interface{}, signature string) bool {
	if s == nil {
		return false
	}
	expected, err := s.mac(payload)
	if err != nil {
		return false
	}
	return hmac.Equal([]byte(expected), []byte(signature))
}
