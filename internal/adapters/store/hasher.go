package store

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/piJoe/zwietracht-vc/internal/core"
	"golang.org/x/crypto/scrypt"
)

const saltLen = 16

// Scrypt hashes passwords as "salt:key", both base64url.
type Scrypt struct {
	N, R, P int
	KeyLen  int
}

// DefaultScrypt is N=2^16, r=8, p=2 with a 64 byte key.
func DefaultScrypt() Scrypt {
	return Scrypt{N: 1 << 16, R: 8, P: 2, KeyLen: 64}
}

var enc = base64.RawURLEncoding

func (s Scrypt) Hash(password string) (string, error) {
	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("salt: %w", err)
	}
	key, err := scrypt.Key([]byte(password), salt, s.N, s.R, s.P, s.KeyLen)
	if err != nil {
		return "", fmt.Errorf("scrypt: %w", err)
	}
	return enc.EncodeToString(salt) + ":" + enc.EncodeToString(key), nil
}

func (s Scrypt) Verify(password, hash string) (bool, error) {
	saltPart, keyPart, ok := strings.Cut(hash, ":")
	if !ok {
		return false, fmt.Errorf("malformed password hash")
	}
	salt, err := enc.DecodeString(saltPart)
	if err != nil {
		return false, fmt.Errorf("decode salt: %w", err)
	}
	want, err := enc.DecodeString(keyPart)
	if err != nil {
		return false, fmt.Errorf("decode key: %w", err)
	}
	got, err := scrypt.Key([]byte(password), salt, s.N, s.R, s.P, len(want))
	if err != nil {
		return false, fmt.Errorf("scrypt: %w", err)
	}
	return subtle.ConstantTimeCompare(got, want) == 1, nil
}

var _ core.PasswordHasher = Scrypt{}
