package auth

import (
	"crypto/sha256"
	"io"

	"golang.org/x/crypto/hkdf"
)

const (
	// DerivedKeyLength matches the HMAC-SHA256 block output.
	DerivedKeyLength = 32

	purposeSessionJWT = "eventboard-session-jwt-v1"
)

// DeriveKey derives a DerivedKeyLength-byte key from masterSecret using
// HKDF-SHA256 with purpose as the info parameter. Different purposes yield
// independent keys.
func DeriveKey(masterSecret []byte, purpose string) ([]byte, error) {
	if len(masterSecret) == 0 {
		return nil, ErrMissingSecret
	}

	reader := hkdf.New(sha256.New, masterSecret, nil, []byte(purpose))
	derived := make([]byte, DerivedKeyLength)
	if _, err := io.ReadFull(reader, derived); err != nil {
		return nil, err
	}
	return derived, nil
}

// DeriveSigningKey derives the key used for access and refresh token signatures.
func DeriveSigningKey(masterSecret []byte) ([]byte, error) {
	return DeriveKey(masterSecret, purposeSessionJWT)
}
