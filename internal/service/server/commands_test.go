package server

import (
	"fmt"
	"testing"

	"stego_chat/internal/codec"
	"stego_chat/internal/delivery"
	"stego_chat/internal/dispatch"
	"stego_chat/internal/model"
	contactRepo "stego_chat/internal/repository/contact"

	"github.com/stretchr/testify/assert"
)

func TestErrorMessage(t *testing.T) {
	wrap := func(err error) error { return fmt.Errorf("open abc: %w", err) }

	tests := []struct {
		kind model.CommandKind
		err  error
		want string
	}{
		{model.CommandOpen, dispatch.ErrNotRecipient, "message could not be opened"},
		{model.CommandOpenFile, wrap(dispatch.ErrNotRecipient), "message could not be opened"},
		{model.CommandOpen, delivery.ErrNotFound, "message could not be opened"},
		{model.CommandOpenFile, dispatch.ErrCannotOpen, "message could not be opened"},
		{model.CommandAck, dispatch.ErrNotRecipient, "message not found"},
		{model.CommandAck, delivery.ErrNotFound, "message not found"},
		{model.CommandSend, wrap(codec.ErrCarrierTooLarge), "carrier image too large"},
		{model.CommandFriendRequest, contactRepo.ErrAlreadyContacts, "already contacts"},
		{model.CommandSend, dispatch.ErrBlocked, "blocked"},
		{model.CommandSend, fmt.Errorf("mongo: connection refused"), "request failed"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, errorMessage(tt.kind, tt.err), "%s: %v", tt.kind, tt.err)
	}
}
