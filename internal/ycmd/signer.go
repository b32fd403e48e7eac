package ycmd

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
)

// SecretLength is the size in bytes of the per-session HMAC secret.
const SecretLength = 16

// GenerateSecret returns a fresh cryptographically random session secret.
func GenerateSecret() ([]byte, error) {
	secret := make([]byte, SecretLength)
	if _, err := rand.Read(secret); err != nil {
		return nil, fmt.Errorf("generating hmac secret: %w", err)
	}
	return secret, nil
}

// Signer computes per-request authentication tokens from the session
// secret. Signing is a pure function of (method, path, body, secret):
// no time or nonce is mixed in, so identical inputs always produce the
// same token.
type Signer struct {
	secret []byte
}

// NewSigner creates a signer for the given session secret.
func NewSigner(secret []byte) (*Signer, error) {
	if len(secret) != SecretLength {
		return nil, ErrInvalidSecret
	}
	s := make([]byte, SecretLength)
	copy(s, secret)
	return &Signer{secret: s}, nil
}

// Sign computes the request token: the HMACs of method, path, and body
// are concatenated as raw bytes and HMACed again with the same secret.
// A nil body is signed as the empty string.
func (s *Signer) Sign(method, path string, body []byte) []byte {
	joined := make([]byte, 0, 3*sha256.Size)
	joined = append(joined, s.hmac([]byte(method))...)
	joined = append(joined, s.hmac([]byte(path))...)
	joined = append(joined, s.hmac(body)...)
	return s.hmac(joined)
}

// SignBase64 returns the signature header value for a request.
func (s *Signer) SignBase64(method, path string, body []byte) string {
	return base64.StdEncoding.EncodeToString(s.Sign(method, path, body))
}

// VerifyBody checks a response body HMAC in constant time. The server
// signs response bodies with HMAC(secret, body).
func (s *Signer) VerifyBody(body []byte, headerB64 string) bool {
	expected, err := base64.StdEncoding.DecodeString(headerB64)
	if err != nil {
		return false
	}
	return hmac.Equal(expected, s.hmac(body))
}

// hmac computes HMAC-SHA256 over data with the session secret.
func (s *Signer) hmac(data []byte) []byte {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write(data)
	return mac.Sum(nil)
}
