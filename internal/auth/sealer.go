package auth

import (
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/chacha20poly1305"
)

// Sealer produces opaque session tokens binding a session id and expiry.
type Sealer struct {
	aead cipher.AEAD
	now  func() time.Time
}

func NewSealer(secret string) (*Sealer, error) {
	key := sha256.Sum256([]byte(secret))
	aead, err := chacha20poly1305.NewX(key[:])
	if err != nil {
		return nil, fmt.Errorf("unable to create session cipher: %w", err)
	}
	return &Sealer{aead: aead, now: time.Now}, nil
}

// Seal encrypts sessionID and expiresAt into a URL-safe token.
func (s *Sealer) Seal(sessionID string, expiresAt time.Time) (string, error) {
	nonce := make([]byte, s.aead.NonceSize(), s.aead.NonceSize()+len(sessionID)+32)
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("unable to generate nonce: %w", err)
	}
	plaintext := sessionID + "|" + strconv.FormatInt(expiresAt.Unix(), 10)
	sealed := s.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.RawURLEncoding.EncodeToString(sealed), nil
}

// Open returns the session id bound in token, failing with ErrUnauthorized
// when the token is forged, corrupted or expired.
func (s *Sealer) Open(token string) (string, error) {
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil || len(raw) < s.aead.NonceSize() {
		return "", ErrUnauthorized
	}
	nonce, ciphertext := raw[:s.aead.NonceSize()], raw[s.aead.NonceSize():]
	plaintext, err := s.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", ErrUnauthorized
	}
	id, exp, ok := strings.Cut(string(plaintext), "|")
	if !ok {
		return "", ErrUnauthorized
	}
	unix, err := strconv.ParseInt(exp, 10, 64)
	if err != nil || s.now().Unix() > unix {
		return "", ErrUnauthorized
	}
	return id, nil
}

// Verify reports whether token was issued for sessionID and is still valid.
func (s *Sealer) Verify(token, sessionID string) bool {
	id, err := s.Open(token)
	return err == nil && id == sessionID
}
