package model

type (
	// SharedKey is the public half of a user's key material as published by
	// the key directory.
	SharedKey struct {
		UserID      string `json:"user_id"`
		PublicKey   string `json:"public_key"`
		IdentityKey string `json:"identity_key"`
		Signature   string `json:"signature"`
	}
)
