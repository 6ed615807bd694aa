// Package hybrid encrypts message bodies with a fresh AES-256-GCM key and
// wraps that key for a single recipient with X25519 + HKDF-SHA256.
package hybrid

import (
	"encoding/base64"
	"errors"
	"fmt"

	"stego_chat/internal/cryptographic/dh"
	"stego_chat/internal/cryptographic/encryption"
	"stego_chat/internal/cryptographic/kdf"

	"github.com/awnumar/memguard"
)

var (
	ErrDecryptionFailed = errors.New("hybrid: decryption failed")
	ErrKeyUnwrapFailed  = errors.New("hybrid: key unwrap failed")
	ErrInvalidKey       = errors.New("hybrid: invalid key")
)

const (
	wrapInfo  = "KeyWrap"
	atRestAAD = "stego_chat/at-rest/v1"

	// ephemeral public key, GCM nonce, wrapped key, GCM tag
	wrappedLen = 32 + encryption.NonceSize + encryption.KeySize + 16
)

type KeyPair struct {
	Public  string
	Private string
}

func GenerateKeyPair() (KeyPair, error) {
	priv, pub, err := dh.NewX25519KeyPair()
	if err != nil {
		return KeyPair{}, err
	}
	defer Wipe(priv[:])
	return KeyPair{
		Public:  EncodeKey(pub[:]),
		Private: EncodeKey(priv[:]),
	}, nil
}

func EncodeKey(b []byte) string {
	return base64.StdEncoding.EncodeToString(b)
}

func DecodeKey(s string) ([32]byte, error) {
	var k [32]byte
	raw, err := base64.StdEncoding.DecodeString(s)
	if err != nil || len(raw) != len(k) {
		return k, ErrInvalidKey
	}
	copy(k[:], raw)
	Wipe(raw)
	return k, nil
}

// Encrypt generates a new symmetric key and iv for every call.
func Encrypt(plaintext []byte) (ciphertext, symmetricKey, iv []byte, err error) {
	symmetricKey, err = encryption.NewKey()
	if err != nil {
		return nil, nil, nil, err
	}
	ciphertext, iv, err = encryption.Seal(symmetricKey, plaintext)
	if err != nil {
		Wipe(symmetricKey)
		return nil, nil, nil, err
	}
	return ciphertext, symmetricKey, iv, nil
}

func Decrypt(ciphertext, symmetricKey, iv []byte) ([]byte, error) {
	if len(symmetricKey) != encryption.KeySize {
		return nil, ErrDecryptionFailed
	}
	plain, err := encryption.Open(symmetricKey, ciphertext, iv)
	if err != nil {
		return nil, ErrDecryptionFailed
	}
	return plain, nil
}

// WrapKey seals symmetricKey so that only the holder of the private half of
// recipientPublicKey can recover it. The result is base64 text.
func WrapKey(symmetricKey []byte, recipientPublicKey string) (string, error) {
	if len(symmetricKey) != encryption.KeySize {
		return "", fmt.Errorf("wrap key: %w", ErrInvalidKey)
	}
	recipientPub, err := DecodeKey(recipientPublicKey)
	if err != nil {
		return "", fmt.Errorf("wrap key: recipient public key: %w", err)
	}

	ephPriv, ephPub, err := dh.NewX25519KeyPair()
	if err != nil {
		return "", err
	}
	defer Wipe(ephPriv[:])

	kek, err := keyEncryptionKey(ephPriv, recipientPub, ephPub, recipientPub)
	if err != nil {
		return "", fmt.Errorf("wrap key: %w", err)
	}
	defer Wipe(kek)

	sealed, err := encryption.AEADEncrypt(kek, symmetricKey, ephPub[:])
	if err != nil {
		return "", fmt.Errorf("wrap key: %w", err)
	}
	return base64.StdEncoding.EncodeToString(append(ephPub[:], sealed...)), nil
}

func UnwrapKey(wrappedKeyText string, recipientPrivateKey string) ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(wrappedKeyText)
	if err != nil || len(raw) != wrappedLen {
		return nil, ErrKeyUnwrapFailed
	}
	priv, err := DecodeKey(recipientPrivateKey)
	if err != nil {
		return nil, ErrKeyUnwrapFailed
	}
	defer Wipe(priv[:])

	var ephPub [32]byte
	copy(ephPub[:], raw[:32])

	kek, err := keyEncryptionKey(priv, ephPub, ephPub, dh.PublicKey(priv))
	if err != nil {
		return nil, ErrKeyUnwrapFailed
	}
	defer Wipe(kek)

	key, err := encryption.AEADDecrypt(kek, raw[32:], ephPub[:])
	if err != nil {
		return nil, ErrKeyUnwrapFailed
	}
	return key, nil
}

func keyEncryptionKey(priv, peer, ephPub, recipientPub [32]byte) ([]byte, error) {
	shared, err := dh.X25519SharedSecret(priv, peer)
	if err != nil {
		return nil, err
	}
	defer Wipe(shared)

	salt := make([]byte, 0, 64)
	salt = append(salt, ephPub[:]...)
	salt = append(salt, recipientPub[:]...)
	return kdf.DeriveKey(shared, salt, wrapInfo, encryption.KeySize)
}

// Wipe zeroes key material once an operation is done with it.
func Wipe(b []byte) {
	if len(b) > 0 {
		memguard.WipeBytes(b)
	}
}

// DecodeMasterKey parses the base64 server master key.
func DecodeMasterKey(s string) ([]byte, error) {
	key, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("master key: %w", err)
	}
	if len(key) != encryption.KeySize {
		return nil, fmt.Errorf("master key: want %d bytes, got %d", encryption.KeySize, len(key))
	}
	return key, nil
}

// SealAtRest protects private keys stored by the key directory.
func SealAtRest(masterKey, plaintext []byte) ([]byte, error) {
	return encryption.AEADEncrypt(masterKey, plaintext, []byte(atRestAAD))
}

func OpenAtRest(masterKey, sealed []byte) ([]byte, error) {
	plain, err := encryption.AEADDecrypt(masterKey, sealed, []byte(atRestAAD))
	if err != nil {
		return nil, ErrDecryptionFailed
	}
	return plain, nil
}
