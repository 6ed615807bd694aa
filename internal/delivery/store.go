// Package delivery persists envelopes for receivers that could not be
// reached live.
//
// An ordinary envelope moves queued -> delivered and is kept until Prune.
// A one-time envelope moves queued -> delivered -> consumed; consuming it
// destroys its body and leaves only a tombstone so a retried Enqueue cannot
// resurrect it. Every transition is a compare-and-set on the current state,
// so repeating a call is a no-op rather than an error.
package delivery

import (
	"context"
	"errors"
	"time"

	"stego_chat/internal/model"
)

var (
	ErrNotFound   = errors.New("delivery: envelope not found")
	ErrNotOneTime = errors.New("delivery: envelope is not one-time")
)

type Store interface {
	// Enqueue stores env as queued. An existing id is left untouched.
	Enqueue(ctx context.Context, env *model.Envelope) error
	// DrainFor returns the receiver's queued envelopes and its delivered but
	// unconsumed one-time envelopes, oldest first.
	DrainFor(ctx context.Context, receiverID string) ([]*model.Envelope, error)
	// MarkDelivered moves queued -> delivered. It reports false when the
	// envelope was not queued, meaning someone else already handed it off.
	MarkDelivered(ctx context.Context, id string) (bool, error)
	// Requeue moves delivered -> queued after a failed hand-off.
	Requeue(ctx context.Context, id string) error
	// MarkConsumed destroys a one-time envelope's body.
	MarkConsumed(ctx context.Context, id string) error
	Delete(ctx context.Context, id string) error
	// Get returns ErrNotFound for missing and consumed envelopes.
	Get(ctx context.Context, id string) (*model.Envelope, error)
	// Prune removes delivered ordinary envelopes and consumed tombstones
	// created before olderThan.
	Prune(ctx context.Context, olderThan time.Time) (int, error)
	Close() error
}

// createdScore orders envelopes; microseconds stay exact in a float64 score.
func createdScore(t time.Time) int64 {
	return t.UnixMicro()
}
