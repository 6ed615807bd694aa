package dispatch

import (
	"context"
	"fmt"

	"stego_chat/internal/model"
	"stego_chat/internal/presence"
	"stego_chat/internal/utils/log"

	"go.uber.org/zap"
)

// Connect registers conn, tells it which contacts are online, announces
// the user to them on its first connection and flushes pending envelopes
// to conn. Registration and the flush run under the user's drain lock, so
// route either reaches conn live or leaves the envelope for this flush,
// never both.
func (e *Engine) Connect(ctx context.Context, conn presence.Conn) error {
	userID := conn.UserID()
	unlock := e.hub.LockDrain(userID)
	defer unlock()

	first := e.hub.Connect(conn)

	contacts, err := e.rel.Contacts(ctx, userID)
	if err != nil {
		log.Error("load contacts failed", zap.String("user_id", userID), zap.Error(err))
	}
	online := e.hub.OnlineSubset(contacts)

	snapshot := model.MustEvent(model.EventReceiveOnlineContacts, model.OnlineContactsEvent{UserIDs: online})
	if err := conn.Push(ctx, snapshot); err != nil {
		return fmt.Errorf("push online contacts: %w", err)
	}

	if first {
		evt := model.MustEvent(model.EventUserOnline, model.PresenceEvent{UserID: userID})
		for _, contact := range online {
			e.hub.Push(ctx, contact, evt)
		}
	}

	log.Info("user connected",
		zap.String("user_id", userID),
		zap.String("conn_id", conn.ID()),
		zap.Bool("first", first),
	)
	return e.drain(ctx, conn)
}

// Disconnect unregisters conn. On the user's last connection it records
// last-seen and announces the user offline.
func (e *Engine) Disconnect(ctx context.Context, conn presence.Conn) {
	userID := conn.UserID()
	if !e.hub.Disconnect(conn) {
		return
	}

	if e.lastSeen != nil {
		if err := e.lastSeen.Record(storeContext(ctx), userID, e.now()); err != nil {
			log.Warn("record last seen failed", zap.String("user_id", userID), zap.Error(err))
		}
	}

	contacts, err := e.rel.Contacts(ctx, userID)
	if err != nil {
		log.Error("load contacts failed", zap.String("user_id", userID), zap.Error(err))
		return
	}
	evt := model.MustEvent(model.EventUserOffline, model.PresenceEvent{UserID: userID})
	for _, contact := range e.hub.OnlineSubset(contacts) {
		e.hub.Push(ctx, contact, evt)
	}
	log.Info("user offline", zap.String("user_id", userID))
}

// drain pushes the user's pending envelopes to conn in creation order.
// The caller holds the user's drain lock. Ordinary envelopes are claimed
// before the push and a failed push requeues what was claimed.
func (e *Engine) drain(ctx context.Context, conn presence.Conn) error {
	userID := conn.UserID()
	sctx := storeContext(ctx)
	envs, err := e.store.DrainFor(sctx, userID)
	if err != nil {
		return fmt.Errorf("drain %s: %w", userID, err)
	}
	if len(envs) == 0 {
		return nil
	}

	var (
		batch   []model.MessageEvent
		claimed []string
		rest    []*model.Envelope
	)
	for _, env := range envs {
		if env.Kind != model.KindMessage || env.OneTime {
			rest = append(rest, env)
			continue
		}
		ok, err := e.store.MarkDelivered(sctx, env.ID)
		if err != nil {
			e.requeue(sctx, claimed)
			return err
		}
		if !ok {
			continue
		}
		claimed = append(claimed, env.ID)
		batch = append(batch, messageEvent(env))
	}

	if len(batch) > 0 {
		evt := model.MustEvent(model.EventReceivePendingMessage, model.PendingMessagesEvent{Messages: batch})
		if err := conn.Push(ctx, evt); err != nil {
			e.requeue(sctx, claimed)
			return fmt.Errorf("push pending messages: %w", err)
		}
	}

	for _, env := range rest {
		if err := e.drainOne(ctx, conn, env); err != nil {
			return err
		}
	}

	log.Debug("pending flushed",
		zap.String("user_id", userID),
		zap.Int("messages", len(batch)),
		zap.Int("other", len(rest)),
	)
	return nil
}

func (e *Engine) drainOne(ctx context.Context, conn presence.Conn, env *model.Envelope) error {
	sctx := storeContext(ctx)

	if env.OneTime {
		evt := model.MustEvent(model.EventReceiveOneTimePendingMessage, messageEvent(env))
		if err := conn.Push(ctx, evt); err != nil {
			return fmt.Errorf("push one-time %s: %w", env.ID, err)
		}
		if env.State == model.StateQueued {
			if _, err := e.store.MarkDelivered(sctx, env.ID); err != nil {
				return err
			}
		}
		return nil
	}

	ok, err := e.store.MarkDelivered(sctx, env.ID)
	if err != nil || !ok {
		return err
	}
	evt := model.MustEvent(model.EventReceivePendingFile, fileEvent(env))
	if err := conn.Push(ctx, evt); err != nil {
		e.requeue(sctx, []string{env.ID})
		return fmt.Errorf("push file %s: %w", env.ID, err)
	}
	return nil
}

func (e *Engine) requeue(ctx context.Context, ids []string) {
	for _, id := range ids {
		if err := e.store.Requeue(ctx, id); err != nil {
			log.Error("requeue failed", zap.String("envelope_id", id), zap.Error(err))
		}
	}
}
