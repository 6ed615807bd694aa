package delivery

import (
	"context"
	"fmt"
	"testing"
	"time"

	"stego_chat/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var base = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func message(id, receiver string, at time.Time, oneTime bool) *model.Envelope {
	return &model.Envelope{
		ID:         id,
		Kind:       model.KindMessage,
		SenderID:   "alice",
		ReceiverID: receiver,
		CreatedAt:  at,
		OneTime:    oneTime,
		Message:    &model.EmbeddedMessage{Image: []byte("png:" + id)},
	}
}

func ids(envs []*model.Envelope) []string {
	out := make([]string, 0, len(envs))
	for _, e := range envs {
		out = append(out, e.ID)
	}
	return out
}

// runStoreSuite checks the behaviour every backend has to share.
func runStoreSuite(t *testing.T, open func(t *testing.T) Store) {
	ctx := context.Background()

	t.Run("drain orders by creation then id", func(t *testing.T) {
		s := open(t)
		require.NoError(t, s.Enqueue(ctx, message("c", "bob", base.Add(2*time.Second), false)))
		require.NoError(t, s.Enqueue(ctx, message("b", "bob", base, false)))
		require.NoError(t, s.Enqueue(ctx, message("a", "bob", base, true)))
		require.NoError(t, s.Enqueue(ctx, message("z", "carol", base, false)))

		envs, err := s.DrainFor(ctx, "bob")
		require.NoError(t, err)
		assert.Equal(t, []string{"a", "b", "c"}, ids(envs))
		for _, e := range envs {
			assert.Equal(t, model.StateQueued, e.State)
			assert.Equal(t, "bob", e.ReceiverID)
		}
		assert.Equal(t, []byte("png:a"), envs[0].Message.Image)
		assert.True(t, envs[0].OneTime)
	})

	t.Run("enqueue never overwrites", func(t *testing.T) {
		s := open(t)
		require.NoError(t, s.Enqueue(ctx, message("m1", "bob", base, false)))
		ok, err := s.MarkDelivered(ctx, "m1")
		require.NoError(t, err)
		require.True(t, ok)

		dup := message("m1", "bob", base.Add(time.Hour), false)
		dup.Message.Image = []byte("other")
		require.NoError(t, s.Enqueue(ctx, dup))

		got, err := s.Get(ctx, "m1")
		require.NoError(t, err)
		assert.Equal(t, model.StateDelivered, got.State)
		assert.Equal(t, []byte("png:m1"), got.Message.Image)
	})

	t.Run("enqueue rejects invalid envelopes", func(t *testing.T) {
		s := open(t)
		env := message("m1", "bob", base, false)
		env.Message = nil
		assert.Error(t, s.Enqueue(ctx, env))
	})

	t.Run("mark delivered is a compare and set", func(t *testing.T) {
		s := open(t)
		require.NoError(t, s.Enqueue(ctx, message("m1", "bob", base, false)))

		ok, err := s.MarkDelivered(ctx, "m1")
		require.NoError(t, err)
		assert.True(t, ok)

		ok, err = s.MarkDelivered(ctx, "m1")
		require.NoError(t, err)
		assert.False(t, ok)

		ok, err = s.MarkDelivered(ctx, "missing")
		require.NoError(t, err)
		assert.False(t, ok)

		envs, err := s.DrainFor(ctx, "bob")
		require.NoError(t, err)
		assert.Empty(t, envs)
	})

	t.Run("requeue returns a claimed envelope", func(t *testing.T) {
		s := open(t)
		require.NoError(t, s.Enqueue(ctx, message("m1", "bob", base, false)))
		_, err := s.MarkDelivered(ctx, "m1")
		require.NoError(t, err)

		require.NoError(t, s.Requeue(ctx, "m1"))
		require.NoError(t, s.Requeue(ctx, "m1"))
		require.NoError(t, s.Requeue(ctx, "missing"))

		envs, err := s.DrainFor(ctx, "bob")
		require.NoError(t, err)
		assert.Equal(t, []string{"m1"}, ids(envs))
	})

	t.Run("delivered one-time stays drainable until consumed", func(t *testing.T) {
		s := open(t)
		require.NoError(t, s.Enqueue(ctx, message("once", "bob", base, true)))
		ok, err := s.MarkDelivered(ctx, "once")
		require.NoError(t, err)
		require.True(t, ok)

		envs, err := s.DrainFor(ctx, "bob")
		require.NoError(t, err)
		require.Equal(t, []string{"once"}, ids(envs))
		assert.Equal(t, model.StateDelivered, envs[0].State)

		require.NoError(t, s.MarkConsumed(ctx, "once"))
		require.NoError(t, s.MarkConsumed(ctx, "once"))

		envs, err = s.DrainFor(ctx, "bob")
		require.NoError(t, err)
		assert.Empty(t, envs)

		_, err = s.Get(ctx, "once")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("consumed envelope cannot be resurrected", func(t *testing.T) {
		s := open(t)
		require.NoError(t, s.Enqueue(ctx, message("once", "bob", base, true)))
		require.NoError(t, s.MarkConsumed(ctx, "once"))
		require.NoError(t, s.Enqueue(ctx, message("once", "bob", base, true)))

		envs, err := s.DrainFor(ctx, "bob")
		require.NoError(t, err)
		assert.Empty(t, envs)
	})

	t.Run("consume rejects ordinary and missing envelopes", func(t *testing.T) {
		s := open(t)
		require.NoError(t, s.Enqueue(ctx, message("m1", "bob", base, false)))
		assert.ErrorIs(t, s.MarkConsumed(ctx, "m1"), ErrNotOneTime)
		assert.ErrorIs(t, s.MarkConsumed(ctx, "missing"), ErrNotFound)
	})

	t.Run("delete is idempotent", func(t *testing.T) {
		s := open(t)
		require.NoError(t, s.Enqueue(ctx, message("m1", "bob", base, false)))
		require.NoError(t, s.Delete(ctx, "m1"))
		require.NoError(t, s.Delete(ctx, "m1"))

		_, err := s.Get(ctx, "m1")
		assert.ErrorIs(t, err, ErrNotFound)
		envs, err := s.DrainFor(ctx, "bob")
		require.NoError(t, err)
		assert.Empty(t, envs)
	})

	t.Run("prune removes only retired envelopes", func(t *testing.T) {
		s := open(t)
		old := base.Add(-48 * time.Hour)
		require.NoError(t, s.Enqueue(ctx, message("old-delivered", "bob", old, false)))
		require.NoError(t, s.Enqueue(ctx, message("old-queued", "bob", old, false)))
		require.NoError(t, s.Enqueue(ctx, message("old-once", "bob", old, true)))
		require.NoError(t, s.Enqueue(ctx, message("old-consumed", "bob", old, true)))
		require.NoError(t, s.Enqueue(ctx, message("new-delivered", "bob", base, false)))

		for _, id := range []string{"old-delivered", "old-once", "new-delivered"} {
			ok, err := s.MarkDelivered(ctx, id)
			require.NoError(t, err)
			require.True(t, ok)
		}
		require.NoError(t, s.MarkConsumed(ctx, "old-consumed"))

		n, err := s.Prune(ctx, base.Add(-time.Hour))
		require.NoError(t, err)
		assert.Equal(t, 2, n)

		_, err = s.Get(ctx, "old-delivered")
		assert.ErrorIs(t, err, ErrNotFound)
		for _, id := range []string{"old-queued", "old-once", "new-delivered"} {
			_, err := s.Get(ctx, id)
			assert.NoError(t, err, id)
		}

		envs, err := s.DrainFor(ctx, "bob")
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{"old-queued", "old-once"}, ids(envs))
	})

	t.Run("file envelopes round trip", func(t *testing.T) {
		s := open(t)
		env := &model.Envelope{
			ID:         "f1",
			Kind:       model.KindFile,
			SenderID:   "alice",
			ReceiverID: "bob",
			ChatID:     "room",
			CreatedAt:  base,
			File: &model.FilePayload{
				Ciphertext:  []byte{1, 2, 3},
				WrappedKey:  "wrapped",
				IV:          []byte{4, 5},
				FileName:    "notes.txt",
				ContentType: "text/plain",
				Size:        3,
			},
		}
		require.NoError(t, s.Enqueue(ctx, env))

		got, err := s.Get(ctx, "f1")
		require.NoError(t, err)
		assert.Equal(t, env.File, got.File)
		assert.Equal(t, "room", got.ChatID)
		assert.True(t, base.Equal(got.CreatedAt))
	})

	t.Run("many receivers stay separate", func(t *testing.T) {
		s := open(t)
		for i := 0; i < 10; i++ {
			receiver := fmt.Sprintf("user-%d", i%3)
			require.NoError(t, s.Enqueue(ctx, message(fmt.Sprintf("m%02d", i), receiver, base.Add(time.Duration(i)*time.Millisecond), false)))
		}
		envs, err := s.DrainFor(ctx, "user-1")
		require.NoError(t, err)
		assert.Equal(t, []string{"m01", "m04", "m07"}, ids(envs))
	})
}
