package model

import "time"

type (
	// EncryptedPayload is what gets hidden inside a carrier image.
	EncryptedPayload struct {
		SenderID        string    `bson:"sender_id"`
		Ciphertext      []byte    `bson:"ciphertext"`
		WrappedKey      string    `bson:"wrapped_key"`
		IV              []byte    `bson:"iv"`
		PlaintextLength int       `bson:"plaintext_length"`
		CreatedAt       time.Time `bson:"created_at"`
	}

	// EmbeddedMessage is a PNG carrier holding a serialized EncryptedPayload.
	EmbeddedMessage struct {
		Image []byte `json:"image"`
	}

	// FilePayload skips the image codec: the file bytes are encrypted and
	// shipped as is.
	FilePayload struct {
		Ciphertext  []byte `json:"ciphertext"`
		WrappedKey  string `json:"wrapped_key"`
		IV          []byte `json:"iv"`
		FileName    string `json:"file_name"`
		ContentType string `json:"content_type"`
		Size        int    `json:"size"`
	}
)
