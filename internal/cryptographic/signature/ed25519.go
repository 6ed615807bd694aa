package signature

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
)

const keySigContext = "stego_chat/shared-key/v1\x00"

func NewEd25519Keypair() (pub, priv []byte, err error) {
	pub, priv, err = ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, nil, err
	}
	return pub, priv, nil
}

func ED25519Sign(privKeyBytes []byte, message []byte) []byte {
	return ed25519.Sign(ed25519.PrivateKey(privKeyBytes), message)
}

func ED25519Verify(pubKeyBytes []byte, message []byte, signature []byte) bool {
	if len(pubKeyBytes) != ed25519.PublicKeySize {
		return false
	}
	return ed25519.Verify(ed25519.PublicKey(pubKeyBytes), message, signature)
}

// SignSharedKey binds a published key-wrapping public key to its owner.
// The result is base64 text.
func SignSharedKey(identityPriv []byte, userID, publicKey string) string {
	return base64.StdEncoding.EncodeToString(ED25519Sign(identityPriv, sharedKeyMessage(userID, publicKey)))
}

// VerifySharedKey checks a signature produced by SignSharedKey. identityPub
// and sig are base64 text.
func VerifySharedKey(identityPub, userID, publicKey, sig string) bool {
	pub, err := base64.StdEncoding.DecodeString(identityPub)
	if err != nil {
		return false
	}
	raw, err := base64.StdEncoding.DecodeString(sig)
	if err != nil {
		return false
	}
	return ED25519Verify(pub, sharedKeyMessage(userID, publicKey), raw)
}

func sharedKeyMessage(userID, publicKey string) []byte {
	msg := make([]byte, 0, len(keySigContext)+len(userID)+1+len(publicKey))
	msg = append(msg, keySigContext...)
	msg = append(msg, userID...)
	msg = append(msg, 0)
	msg = append(msg, publicKey...)
	return msg
}
