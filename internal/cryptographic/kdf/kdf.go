package kdf

import (
	"crypto/sha256"
	"io"

	"golang.org/x/crypto/hkdf"
)

// HKDF fills buffer from HKDF-SHA256(secret, salt, info).
func HKDF(secret, salt, info, buffer []byte) (int, error) {
	h := hkdf.New(sha256.New, secret, salt, info)
	return io.ReadFull(h, buffer)
}

// DeriveKey returns size bytes of HKDF-SHA256 output.
func DeriveKey(secret, salt []byte, info string, size int) ([]byte, error) {
	out := make([]byte, size)
	if _, err := HKDF(secret, salt, []byte(info), out); err != nil {
		return nil, err
	}
	return out, nil
}
