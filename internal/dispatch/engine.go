// Package dispatch routes encrypted, image-embedded messages between users:
// live over the presence hub when possible, through the delivery store
// otherwise.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"stego_chat/internal/codec"
	"stego_chat/internal/cryptographic/hybrid"
	"stego_chat/internal/cryptographic/kdf"
	"stego_chat/internal/delivery"
	"stego_chat/internal/model"
	"stego_chat/internal/presence"
	"stego_chat/internal/repository/user"
	"stego_chat/internal/utils/log"

	"go.mongodb.org/mongo-driver/bson"
	"go.uber.org/zap"
)

var (
	ErrBlocked          = errors.New("dispatch: users block each other")
	ErrRecipientUnknown = fmt.Errorf("dispatch: unknown recipient: %w", user.ErrNotFound)
	ErrNotRecipient     = errors.New("dispatch: envelope belongs to another user")
	ErrNotMember        = errors.New("dispatch: not a chat member")
	ErrCannotOpen       = errors.New("message could not be opened")
)

type (
	// KeyDirectory resolves users' key-wrapping keys as base64 text.
	KeyDirectory interface {
		GetPublicKey(ctx context.Context, userID string) (string, error)
		GetPrivateKey(ctx context.Context, userID string) (string, error)
	}

	// Relationships answers routing questions about users and persists
	// social actions.
	Relationships interface {
		IsBlocked(ctx context.Context, a, b string) (bool, error)
		Contacts(ctx context.Context, userID string) ([]string, error)
		ChatMembers(ctx context.Context, chatID string) ([]string, error)
		SendFriendRequest(ctx context.Context, userID, contactUserID string) error
		AnswerFriendRequest(ctx context.Context, userID, contactUserID string, status model.FriendRequestStatus) error
		Block(ctx context.Context, userID, blockedUserID string) error
		Unblock(ctx context.Context, userID, blockedUserID string) error
	}

	LastSeenRecorder interface {
		Record(ctx context.Context, userID string, at time.Time) error
	}

	Config struct {
		// CodecSecret seeds every recipient's carrier key.
		CodecSecret   string
		Retention     time.Duration
		PruneInterval time.Duration
	}

	Engine struct {
		cfg      Config
		keys     KeyDirectory
		rel      Relationships
		store    delivery.Store
		hub      *presence.Hub
		lastSeen LastSeenRecorder
		now      func() time.Time
	}
)

// New builds an engine. lastSeen may be nil.
func New(cfg Config, keys KeyDirectory, rel Relationships, store delivery.Store, hub *presence.Hub, lastSeen LastSeenRecorder) *Engine {
	return &Engine{
		cfg:      cfg,
		keys:     keys,
		rel:      rel,
		store:    store,
		hub:      hub,
		lastSeen: lastSeen,
		now:      time.Now,
	}
}

func (e *Engine) Hub() *presence.Hub {
	return e.hub
}

// codecKey derives the carrier traversal key for one recipient.
func (e *Engine) codecKey(recipientID string) ([]byte, error) {
	return kdf.DeriveKey([]byte(e.cfg.CodecSecret), nil, "carrier:"+recipientID, 32)
}

func (e *Engine) checkBlocked(ctx context.Context, a, b string) error {
	blocked, err := e.rel.IsBlocked(ctx, a, b)
	if err != nil {
		return fmt.Errorf("check block %s/%s: %w", a, b, err)
	}
	if blocked {
		return ErrBlocked
	}
	return nil
}

func (e *Engine) publicKey(ctx context.Context, userID string) (string, error) {
	pub, err := e.keys.GetPublicKey(ctx, userID)
	if errors.Is(err, user.ErrNotFound) {
		return "", fmt.Errorf("%w: %s", ErrRecipientUnknown, userID)
	}
	if err != nil {
		return "", fmt.Errorf("public key of %s: %w", userID, err)
	}
	return pub, nil
}

// compose encrypts plaintext for recipientID and hides the result in a
// carrier. A nil carrier gets a generated decoy.
func (e *Engine) compose(ctx context.Context, senderID, recipientID string, plaintext []byte, carrier *codec.Carrier, at time.Time) ([]byte, error) {
	pub, err := e.publicKey(ctx, recipientID)
	if err != nil {
		return nil, err
	}

	ciphertext, key, iv, err := hybrid.Encrypt(plaintext)
	if err != nil {
		return nil, err
	}
	defer hybrid.Wipe(key)

	wrapped, err := hybrid.WrapKey(key, pub)
	if err != nil {
		return nil, fmt.Errorf("wrap key for %s: %w", recipientID, err)
	}

	raw, err := bson.Marshal(&model.EncryptedPayload{
		SenderID:        senderID,
		Ciphertext:      ciphertext,
		WrappedKey:      wrapped,
		IV:              iv,
		PlaintextLength: len(plaintext),
		CreatedAt:       at,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}

	if carrier == nil {
		if carrier, err = codec.RandomCarrier(len(raw)); err != nil {
			return nil, fmt.Errorf("random carrier: %w", err)
		}
	}

	ckey, err := e.codecKey(recipientID)
	if err != nil {
		return nil, err
	}
	defer hybrid.Wipe(ckey)

	embedded, err := codec.Embed(carrier, raw, ckey, at)
	if err != nil {
		return nil, err
	}
	return codec.EncodePNG(embedded)
}

// storeContext detaches store writes from a caller that may disconnect
// halfway through an operation.
func storeContext(ctx context.Context) context.Context {
	return context.WithoutCancel(ctx)
}

// route hands env to the receiver live or persists it. One-time envelopes
// are always persisted first so they can be acknowledged later. The
// receiver's drain lock is held throughout, so a connection registering
// meanwhile is flushed only after the envelope has settled.
func (e *Engine) route(ctx context.Context, env *model.Envelope, evt model.Event) (*SendResult, error) {
	unlock := e.hub.LockDrain(env.ReceiverID)
	defer unlock()

	res := &SendResult{EnvelopeID: env.ID, RecipientID: env.ReceiverID}
	sctx := storeContext(ctx)

	if env.OneTime {
		if err := e.store.Enqueue(sctx, env); err != nil {
			return nil, err
		}
		res.Queued = true
		delivered, _ := e.hub.Push(ctx, env.ReceiverID, evt)
		if delivered == 0 {
			return res, nil
		}
		res.Live = true
		if _, err := e.store.MarkDelivered(sctx, env.ID); err != nil {
			return nil, err
		}
		return res, nil
	}

	if e.hub.IsOnline(env.ReceiverID) {
		delivered, failed := e.hub.Push(ctx, env.ReceiverID, evt)
		if delivered > 0 {
			res.Live = true
			return res, nil
		}
		log.Debug("live push failed on every connection, queueing",
			zap.String("envelope_id", env.ID),
			zap.String("receiver_id", env.ReceiverID),
			zap.Int("failed", failed),
		)
	}

	if err := e.store.Enqueue(sctx, env); err != nil {
		return nil, err
	}
	res.Queued = true
	return res, nil
}
