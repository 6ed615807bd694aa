package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"stego_chat/internal/codec"
	"stego_chat/internal/cryptographic/hybrid"
	"stego_chat/internal/delivery"
	"stego_chat/internal/model"
	"stego_chat/internal/utils/log"

	"go.mongodb.org/mongo-driver/bson"
	"go.uber.org/zap"
)

type (
	// OpenRequest carries either the received image or the id of an
	// envelope still held by the delivery store.
	OpenRequest struct {
		RecipientID string
		Image       []byte
		EnvelopeID  string
	}

	OpenFileRequest struct {
		RecipientID string
		EnvelopeID  string
		// File is set for files that were delivered live and never stored.
		File     *model.FilePayload
		SenderID string
	}

	OpenedMessage struct {
		EnvelopeID  string
		SenderID    string
		Plaintext   []byte
		FileName    string
		ContentType string
		CreatedAt   time.Time
	}
)

// Open recovers the plaintext hidden in a message addressed to the
// recipient. Every codec or crypto failure is reported as ErrCannotOpen.
func (e *Engine) Open(ctx context.Context, req OpenRequest) (*OpenedMessage, error) {
	image := req.Image
	if len(image) == 0 {
		env, err := e.ownEnvelope(ctx, req.RecipientID, req.EnvelopeID)
		if err != nil {
			return nil, err
		}
		if env.Kind != model.KindMessage {
			return nil, ErrCannotOpen
		}
		image = env.Message.Image
	}

	payload, ts, err := e.extract(req.RecipientID, image)
	if err != nil {
		log.Debug("extract failed", zap.String("recipient_id", req.RecipientID), zap.Error(err))
		return nil, ErrCannotOpen
	}

	plaintext, err := e.decrypt(ctx, req.RecipientID, payload.Ciphertext, payload.WrappedKey, payload.IV)
	if err != nil {
		return nil, err
	}
	if len(plaintext) != payload.PlaintextLength {
		hybrid.Wipe(plaintext)
		return nil, ErrCannotOpen
	}

	return &OpenedMessage{
		EnvelopeID: req.EnvelopeID,
		SenderID:   payload.SenderID,
		Plaintext:  plaintext,
		CreatedAt:  ts,
	}, nil
}

// OpenFile decrypts a file addressed to the recipient.
func (e *Engine) OpenFile(ctx context.Context, req OpenFileRequest) (*OpenedMessage, error) {
	file, senderID := req.File, req.SenderID
	var createdAt time.Time
	if file == nil {
		env, err := e.ownEnvelope(ctx, req.RecipientID, req.EnvelopeID)
		if err != nil {
			return nil, err
		}
		if env.Kind != model.KindFile {
			return nil, ErrCannotOpen
		}
		file, senderID, createdAt = env.File, env.SenderID, env.CreatedAt
	}

	plaintext, err := e.decrypt(ctx, req.RecipientID, file.Ciphertext, file.WrappedKey, file.IV)
	if err != nil {
		return nil, err
	}
	return &OpenedMessage{
		EnvelopeID:  req.EnvelopeID,
		SenderID:    senderID,
		Plaintext:   plaintext,
		FileName:    file.FileName,
		ContentType: file.ContentType,
		CreatedAt:   createdAt,
	}, nil
}

// Acknowledge consumes a one-time envelope once its receiver has read it.
// Acknowledging twice is not an error.
func (e *Engine) Acknowledge(ctx context.Context, recipientID, envelopeID string) error {
	env, err := e.store.Get(ctx, envelopeID)
	if errors.Is(err, delivery.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if env.ReceiverID != recipientID {
		return ErrNotRecipient
	}
	if err := e.store.MarkConsumed(storeContext(ctx), envelopeID); err != nil {
		return err
	}
	log.Info("one-time message consumed",
		zap.String("envelope_id", envelopeID),
		zap.String("receiver_id", recipientID),
	)
	return nil
}

func (e *Engine) ownEnvelope(ctx context.Context, recipientID, envelopeID string) (*model.Envelope, error) {
	env, err := e.store.Get(ctx, envelopeID)
	if err != nil {
		return nil, err
	}
	if env.ReceiverID != recipientID {
		return nil, ErrNotRecipient
	}
	return env, nil
}

func (e *Engine) extract(recipientID string, image []byte) (*model.EncryptedPayload, time.Time, error) {
	carrier, err := codec.DecodePNG(image)
	if err != nil {
		return nil, time.Time{}, err
	}

	ckey, err := e.codecKey(recipientID)
	if err != nil {
		return nil, time.Time{}, err
	}
	defer hybrid.Wipe(ckey)

	raw, _, ts, err := codec.Extract(carrier, ckey)
	if err != nil {
		return nil, time.Time{}, err
	}

	var payload model.EncryptedPayload
	if err := bson.Unmarshal(raw, &payload); err != nil {
		return nil, time.Time{}, fmt.Errorf("unmarshal payload: %w", err)
	}
	return &payload, ts, nil
}

// decrypt unwraps the message key with the recipient's private key.
// Directory errors pass through; crypto errors become ErrCannotOpen.
func (e *Engine) decrypt(ctx context.Context, recipientID string, ciphertext []byte, wrappedKey string, iv []byte) ([]byte, error) {
	priv, err := e.keys.GetPrivateKey(ctx, recipientID)
	if err != nil {
		return nil, fmt.Errorf("private key of %s: %w", recipientID, err)
	}

	key, err := hybrid.UnwrapKey(wrappedKey, priv)
	if err != nil {
		log.Debug("unwrap failed", zap.String("recipient_id", recipientID), zap.Error(err))
		return nil, ErrCannotOpen
	}
	defer hybrid.Wipe(key)

	plaintext, err := hybrid.Decrypt(ciphertext, key, iv)
	if err != nil {
		log.Debug("decrypt failed", zap.String("recipient_id", recipientID), zap.Error(err))
		return nil, ErrCannotOpen
	}
	return plaintext, nil
}
