package server

import (
	"context"
	"errors"
	"fmt"

	"stego_chat/internal/codec"
	"stego_chat/internal/delivery"
	"stego_chat/internal/dispatch"
	"stego_chat/internal/model"
	contactRepo "stego_chat/internal/repository/contact"
	"stego_chat/internal/utils/log"

	"go.uber.org/zap"
)

// handleCommand runs one inbound command on behalf of c and reports any
// failure back to c as an Error event.
func (s *HttpServer) handleCommand(ctx context.Context, c *Client, cmd *model.Command) {
	err := s.runCommand(ctx, c, cmd)
	if err == nil {
		return
	}

	log.Debug("command failed",
		zap.String("user_id", c.UserID()),
		zap.String("command", string(cmd.Kind)),
		zap.Error(err),
	)
	evt := model.MustEvent(model.EventError, model.ErrorEvent{
		Command: string(cmd.Kind),
		Message: errorMessage(cmd.Kind, err),
	})
	if err := c.Push(ctx, evt); err != nil {
		log.Debug("push error event failed", zap.String("user_id", c.UserID()), zap.Error(err))
	}
}

func (s *HttpServer) runCommand(ctx context.Context, c *Client, cmd *model.Command) error {
	userID := c.UserID()

	switch cmd.Kind {
	case model.CommandSend:
		_, err := s.engine.Send(ctx, dispatch.SendRequest{
			SenderID:    userID,
			RecipientID: cmd.To,
			ChatID:      cmd.ChatID,
			Plaintext:   []byte(cmd.Text),
			Carrier:     cmd.Carrier,
			OneTime:     cmd.OneTime,
		})
		return err

	case model.CommandSendGroup:
		_, err := s.engine.SendGroup(ctx, dispatch.GroupSendRequest{
			SenderID:  userID,
			ChatID:    cmd.ChatID,
			Plaintext: []byte(cmd.Text),
			Carrier:   cmd.Carrier,
			OneTime:   cmd.OneTime,
		})
		return err

	case model.CommandSendFile:
		_, err := s.engine.SendFile(ctx, dispatch.FileSendRequest{
			SenderID:    userID,
			RecipientID: cmd.To,
			ChatID:      cmd.ChatID,
			FileName:    cmd.FileName,
			ContentType: cmd.ContentType,
			Data:        cmd.Data,
		})
		return err

	case model.CommandOpen:
		opened, err := s.engine.Open(ctx, dispatch.OpenRequest{
			RecipientID: userID,
			Image:       cmd.Image,
			EnvelopeID:  cmd.EnvelopeID,
		})
		if err != nil {
			return err
		}
		return c.Push(ctx, openedEvent(opened))

	case model.CommandOpenFile:
		opened, err := s.engine.OpenFile(ctx, dispatch.OpenFileRequest{
			RecipientID: userID,
			EnvelopeID:  cmd.EnvelopeID,
			File:        cmd.File,
			SenderID:    cmd.To,
		})
		if err != nil {
			return err
		}
		return c.Push(ctx, openedEvent(opened))

	case model.CommandAck:
		return s.engine.Acknowledge(ctx, userID, cmd.EnvelopeID)

	case model.CommandFriendRequest:
		return s.engine.SendFriendRequest(ctx, userID, cmd.To)

	case model.CommandFriendConfirm:
		return s.engine.ConfirmFriendRequest(ctx, userID, cmd.To)

	case model.CommandFriendReject:
		return s.engine.RejectFriendRequest(ctx, userID, cmd.To)

	case model.CommandBlock:
		return s.engine.Block(ctx, userID, cmd.To)

	case model.CommandUnblock:
		return s.engine.Unblock(ctx, userID, cmd.To)
	}
	return fmt.Errorf("unknown command %q", cmd.Kind)
}

func openedEvent(m *dispatch.OpenedMessage) model.Event {
	return model.MustEvent(model.EventMessageOpened, model.OpenedEvent{
		EnvelopeID:  m.EnvelopeID,
		SenderID:    m.SenderID,
		Plaintext:   m.Plaintext,
		FileName:    m.FileName,
		ContentType: m.ContentType,
		CreatedAt:   m.CreatedAt,
	})
}

// errorMessage keeps internal detail out of what the client sees. Open
// failures never say why.
func errorMessage(kind model.CommandKind, err error) string {
	if kind == model.CommandOpen || kind == model.CommandOpenFile {
		if errors.Is(err, dispatch.ErrCannotOpen) || errors.Is(err, delivery.ErrNotFound) ||
			errors.Is(err, dispatch.ErrNotRecipient) {
			return dispatch.ErrCannotOpen.Error()
		}
	}

	switch {
	case errors.Is(err, dispatch.ErrBlocked):
		return "blocked"
	case errors.Is(err, dispatch.ErrRecipientUnknown):
		return "unknown recipient"
	case errors.Is(err, dispatch.ErrNotMember):
		return "not a member of this chat"
	case errors.Is(err, codec.ErrCapacityExceeded):
		return "message does not fit in the carrier image"
	case errors.Is(err, codec.ErrCarrierTooLarge):
		return "carrier image too large"
	case errors.Is(err, contactRepo.ErrAlreadyContacts):
		return "already contacts"
	case errors.Is(err, delivery.ErrNotOneTime):
		return "not a one-time message"
	case errors.Is(err, delivery.ErrNotFound), errors.Is(err, dispatch.ErrNotRecipient):
		// a foreign envelope id reads the same as a missing one
		return "message not found"
	}
	return "request failed"
}
