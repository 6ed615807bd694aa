package dispatch

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"stego_chat/internal/codec"
	"stego_chat/internal/cryptographic/hybrid"
	"stego_chat/internal/model"
	"stego_chat/internal/utils/log"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

type (
	SendRequest struct {
		SenderID    string
		RecipientID string
		ChatID      string
		Plaintext   []byte
		// Carrier is an optional PNG to hide the message in.
		Carrier []byte
		OneTime bool
	}

	GroupSendRequest struct {
		SenderID  string
		ChatID    string
		Plaintext []byte
		Carrier   []byte
		OneTime   bool
	}

	FileSendRequest struct {
		SenderID    string
		RecipientID string
		ChatID      string
		FileName    string
		ContentType string
		Data        []byte
	}

	SendResult struct {
		EnvelopeID  string
		RecipientID string
		Live        bool
		Queued      bool
	}

	GroupSendResult struct {
		Results []*SendResult
		// Skipped lists members left out because of a block.
		Skipped []string
	}
)

func decodeCarrier(data []byte) (*codec.Carrier, error) {
	if len(data) == 0 {
		return nil, nil
	}
	c, err := codec.DecodePNG(data)
	if err != nil {
		return nil, fmt.Errorf("carrier: %w", err)
	}
	return c, nil
}

// Send delivers one message to one recipient.
func (e *Engine) Send(ctx context.Context, req SendRequest) (*SendResult, error) {
	if err := e.checkBlocked(ctx, req.SenderID, req.RecipientID); err != nil {
		return nil, err
	}
	if err := e.checkChat(ctx, req.ChatID, req.SenderID, req.RecipientID); err != nil {
		return nil, err
	}
	carrier, err := decodeCarrier(req.Carrier)
	if err != nil {
		return nil, err
	}

	kind := model.EventReceiveMessage
	if req.ChatID != "" {
		kind = model.EventReceiveGroupMessage
	}
	return e.sendMessage(ctx, req.SenderID, req.RecipientID, req.ChatID, req.Plaintext, carrier, req.OneTime, kind)
}

// checkChat requires both users to be members of chatID when a direct send
// is tagged with one.
func (e *Engine) checkChat(ctx context.Context, chatID, senderID, recipientID string) error {
	if chatID == "" {
		return nil
	}
	members, err := e.rel.ChatMembers(ctx, chatID)
	if err != nil {
		return fmt.Errorf("members of %s: %w", chatID, err)
	}
	for _, id := range []string{senderID, recipientID} {
		if !slices.Contains(members, id) {
			return fmt.Errorf("%s in %s: %w", id, chatID, ErrNotMember)
		}
	}
	return nil
}

func (e *Engine) sendMessage(ctx context.Context, senderID, recipientID, chatID string, plaintext []byte, carrier *codec.Carrier, oneTime bool, kind model.EventKind) (*SendResult, error) {
	at := e.now().UTC()
	image, err := e.compose(ctx, senderID, recipientID, plaintext, carrier, at)
	if err != nil {
		return nil, err
	}

	env := &model.Envelope{
		ID:         uuid.NewString(),
		Kind:       model.KindMessage,
		SenderID:   senderID,
		ReceiverID: recipientID,
		ChatID:     chatID,
		CreatedAt:  at,
		OneTime:    oneTime,
		Message:    &model.EmbeddedMessage{Image: image},
	}
	if oneTime {
		kind = model.EventReceiveOneTimeMessage
	}

	res, err := e.route(ctx, env, model.MustEvent(kind, messageEvent(env)))
	if err != nil {
		return nil, err
	}
	log.Debug("message routed",
		zap.String("envelope_id", env.ID),
		zap.String("sender_id", senderID),
		zap.String("receiver_id", recipientID),
		zap.Bool("live", res.Live),
		zap.Bool("one_time", oneTime),
	)
	return res, nil
}

// SendGroup encrypts the message separately for every chat member except
// the sender. Members in a block relation with the sender are skipped. A
// failure for one member does not stop the others.
func (e *Engine) SendGroup(ctx context.Context, req GroupSendRequest) (*GroupSendResult, error) {
	members, err := e.rel.ChatMembers(ctx, req.ChatID)
	if err != nil {
		return nil, fmt.Errorf("members of %s: %w", req.ChatID, err)
	}
	if !slices.Contains(members, req.SenderID) {
		return nil, ErrNotMember
	}
	carrier, err := decodeCarrier(req.Carrier)
	if err != nil {
		return nil, err
	}

	out := &GroupSendResult{}
	var errs []error
	for _, member := range members {
		if member == req.SenderID {
			continue
		}
		blocked, err := e.rel.IsBlocked(ctx, req.SenderID, member)
		if err != nil {
			errs = append(errs, fmt.Errorf("check block %s: %w", member, err))
			continue
		}
		if blocked {
			out.Skipped = append(out.Skipped, member)
			continue
		}

		res, err := e.sendMessage(ctx, req.SenderID, member, req.ChatID, req.Plaintext, carrier, req.OneTime, model.EventReceiveGroupMessage)
		if err != nil {
			errs = append(errs, fmt.Errorf("send to %s: %w", member, err))
			continue
		}
		out.Results = append(out.Results, res)
	}
	return out, errors.Join(errs...)
}

// SendFile encrypts a file for one recipient. Files skip the image codec.
func (e *Engine) SendFile(ctx context.Context, req FileSendRequest) (*SendResult, error) {
	if err := e.checkBlocked(ctx, req.SenderID, req.RecipientID); err != nil {
		return nil, err
	}
	if err := e.checkChat(ctx, req.ChatID, req.SenderID, req.RecipientID); err != nil {
		return nil, err
	}
	pub, err := e.publicKey(ctx, req.RecipientID)
	if err != nil {
		return nil, err
	}

	ciphertext, key, iv, err := hybrid.Encrypt(req.Data)
	if err != nil {
		return nil, err
	}
	defer hybrid.Wipe(key)

	wrapped, err := hybrid.WrapKey(key, pub)
	if err != nil {
		return nil, fmt.Errorf("wrap key for %s: %w", req.RecipientID, err)
	}

	env := &model.Envelope{
		ID:         uuid.NewString(),
		Kind:       model.KindFile,
		SenderID:   req.SenderID,
		ReceiverID: req.RecipientID,
		ChatID:     req.ChatID,
		CreatedAt:  e.now().UTC(),
		File: &model.FilePayload{
			Ciphertext:  ciphertext,
			WrappedKey:  wrapped,
			IV:          iv,
			FileName:    req.FileName,
			ContentType: req.ContentType,
			Size:        len(req.Data),
		},
	}
	return e.route(ctx, env, model.MustEvent(model.EventReceiveFile, fileEvent(env)))
}

func messageEvent(env *model.Envelope) model.MessageEvent {
	return model.MessageEvent{
		EnvelopeID: env.ID,
		SenderID:   env.SenderID,
		ChatID:     env.ChatID,
		Image:      env.Message.Image,
		OneTime:    env.OneTime,
		CreatedAt:  env.CreatedAt,
	}
}

func fileEvent(env *model.Envelope) model.FileEvent {
	return model.FileEvent{
		EnvelopeID: env.ID,
		SenderID:   env.SenderID,
		ChatID:     env.ChatID,
		File:       env.File,
		CreatedAt:  env.CreatedAt,
	}
}
