package dispatch

import (
	"context"

	"stego_chat/internal/model"
)

// Social notifications are pushed best effort: an offline user learns
// about them from the persisted state, never from a queue.

func (e *Engine) SendFriendRequest(ctx context.Context, userID, contactUserID string) error {
	if _, err := e.publicKey(ctx, contactUserID); err != nil {
		return err
	}
	if err := e.checkBlocked(ctx, userID, contactUserID); err != nil {
		return err
	}
	if err := e.rel.SendFriendRequest(ctx, userID, contactUserID); err != nil {
		return err
	}
	e.hub.Push(ctx, contactUserID, model.MustEvent(model.EventReceiveFriendRequest, model.FriendRequestEvent{
		UserID:        userID,
		ContactUserID: contactUserID,
	}))
	return nil
}

// ConfirmFriendRequest accepts the request requesterID sent to userID. If
// both are online they also learn about each other's presence.
func (e *Engine) ConfirmFriendRequest(ctx context.Context, userID, requesterID string) error {
	if err := e.rel.AnswerFriendRequest(ctx, requesterID, userID, model.FriendRequestConfirmed); err != nil {
		return err
	}
	e.hub.Push(ctx, requesterID, model.MustEvent(model.EventConfirmFriendRequest, model.FriendRequestEvent{
		UserID:        userID,
		ContactUserID: requesterID,
	}))

	if e.hub.IsOnline(userID) && e.hub.IsOnline(requesterID) {
		e.hub.Push(ctx, requesterID, model.MustEvent(model.EventUserOnline, model.PresenceEvent{UserID: userID}))
		e.hub.Push(ctx, userID, model.MustEvent(model.EventUserOnline, model.PresenceEvent{UserID: requesterID}))
	}
	return nil
}

func (e *Engine) RejectFriendRequest(ctx context.Context, userID, requesterID string) error {
	if err := e.rel.AnswerFriendRequest(ctx, requesterID, userID, model.FriendRequestRejected); err != nil {
		return err
	}
	e.hub.Push(ctx, requesterID, model.MustEvent(model.EventRejectFriendRequest, model.FriendRequestEvent{
		UserID:        userID,
		ContactUserID: requesterID,
	}))
	return nil
}

func (e *Engine) Block(ctx context.Context, userID, blockedUserID string) error {
	if err := e.rel.Block(ctx, userID, blockedUserID); err != nil {
		return err
	}
	e.hub.Push(ctx, blockedUserID, model.MustEvent(model.EventUserBlocked, model.BlockEvent{
		UserID:        userID,
		BlockedUserID: blockedUserID,
	}))
	return nil
}

func (e *Engine) Unblock(ctx context.Context, userID, blockedUserID string) error {
	if err := e.rel.Unblock(ctx, userID, blockedUserID); err != nil {
		return err
	}
	e.hub.Push(ctx, blockedUserID, model.MustEvent(model.EventUserUnblocked, model.BlockEvent{
		UserID:        userID,
		BlockedUserID: blockedUserID,
	}))
	return nil
}
