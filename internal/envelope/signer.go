package envelope

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
)

// Signer computes HMAC-SHA256 digests over the canonical event fields.
type Signer struct {
	secret []byte
}

// NewSigner returns a Signer keyed with secret.
func NewSigner(secret []byte) (*Signer, error) {
	if len(secret) == 0 {
		return nil, errors.New("envelope: empty signing secret")
	}
	k := make([]byte, len(secret))
	copy(k, secret)
	return &Signer{secret: k}, nil
}

// Sign returns the lowercase hex digest for e, ignoring e.Signature.
func (s *Signer) Sign(e *Event) (string, error) {
	b, err := canonicalBytes(e)
	if err != nil {
		return "", err
	}
	mac := hmac.New(sha256.New, s.secret)
	mac.Write(b)
	return hex.EncodeToString(mac.Sum(nil)), nil
}

// Verify recomputes the digest and compares it in constant time.
func (s *Signer) Verify(e *Event) bool {
	if e == nil || e.Signature == "" {
		return false
	}
	got, err := hex.DecodeString(e.Signature)
	if err != nil {
		return false
	}
	b, err := canonicalBytes(e)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, s.secret)
	mac.Write(b)
	return hmac.Equal(got, mac.Sum(nil))
}
