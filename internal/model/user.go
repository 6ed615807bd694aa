package model

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

type (
	User struct {
		ID     primitive.ObjectID `bson:"_id,omitempty" json:"-"`
		UserID string             `bson:"user_id" json:"user_id"`
		Name   string             `bson:"name" json:"name"`

		// X25519 key pair used for key wrapping. The private half is sealed
		// with the server master key.
		PublicKey        string `bson:"public_key" json:"public_key"`
		SealedPrivateKey []byte `bson:"sealed_private_key" json:"-"`

		// Ed25519 identity key signing PublicKey.
		IdentityKey           string `bson:"identity_key" json:"identity_key"`
		SealedIdentityPrivate []byte `bson:"sealed_identity_private" json:"-"`
		KeySignature          string `bson:"key_signature" json:"key_signature"`

		CreatedAt time.Time `bson:"created_at" json:"created_at"`
	}
)
