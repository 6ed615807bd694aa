package presence

import (
	"context"
	"strconv"
	"time"

	"stego_chat/internal/service/redis"
)

const lastSeenTTL = 30 * 24 * time.Hour

type (
	// LastSeenStore keeps disconnect times across restarts.
	LastSeenStore struct {
		redis *redis.RedisService
	}
)

func NewLastSeenStore(r *redis.RedisService) *LastSeenStore {
	return &LastSeenStore{redis: r}
}

func lastSeenKey(userID string) string {
	return "last_seen:" + userID
}

func (s *LastSeenStore) Record(ctx context.Context, userID string, at time.Time) error {
	return s.redis.Set(ctx, lastSeenKey(userID), at.UnixMilli(), lastSeenTTL)
}

// Get reports false when nothing was recorded.
func (s *LastSeenStore) Get(ctx context.Context, userID string) (time.Time, bool, error) {
	v, err := s.redis.Get(ctx, lastSeenKey(userID))
	if redis.IsNil(err) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	ms, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return time.Time{}, false, err
	}
	return time.UnixMilli(ms).UTC(), true, nil
}
