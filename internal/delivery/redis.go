package delivery

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"stego_chat/internal/model"
	redisSvc "stego_chat/internal/service/redis"

	"github.com/redis/go-redis/v9"
)

// Key layout:
//
//	env:<id>          hash {body, state, receiver, one_time, score}
//	pending:<user>    zset of ids awaiting hand-off or consumption
//	retired           zset of delivered ordinary ids and consumed tombstones
//
// Scripts build pending:<user> from the hash, so this layout assumes a
// single Redis node.
const retiredKey = "retired"

var (
	enqueueScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then return 0 end
redis.call('HSET', KEYS[1], 'body', ARGV[2], 'state', 'queued', 'receiver', ARGV[3], 'one_time', ARGV[4], 'score', ARGV[5])
redis.call('ZADD', 'pending:' .. ARGV[3], ARGV[5], ARGV[1])
return 1`)

	drainScript = redis.NewScript(`
local ids = redis.call('ZRANGE', KEYS[1], '0', '-1')
local out = {}
for _, id in ipairs(ids) do
  local v = redis.call('HMGET', 'env:' .. id, 'body', 'state')
  if v[1] then
    table.insert(out, v[1])
    table.insert(out, v[2])
  end
end
return out`)

	markDeliveredScript = redis.NewScript(`
local v = redis.call('HMGET', KEYS[1], 'state', 'receiver', 'one_time', 'score')
if v[1] ~= 'queued' then return 0 end
redis.call('HSET', KEYS[1], 'state', 'delivered')
if v[3] == '0' then
  redis.call('ZREM', 'pending:' .. v[2], ARGV[1])
  redis.call('ZADD', KEYS[2], v[4], ARGV[1])
end
return 1`)

	requeueScript = redis.NewScript(`
local v = redis.call('HMGET', KEYS[1], 'state', 'receiver', 'one_time', 'score')
if v[1] ~= 'delivered' then return 0 end
redis.call('HSET', KEYS[1], 'state', 'queued')
if v[3] == '0' then
  redis.call('ZREM', KEYS[2], ARGV[1])
  redis.call('ZADD', 'pending:' .. v[2], v[4], ARGV[1])
end
return 1`)

	consumeScript = redis.NewScript(`
local v = redis.call('HMGET', KEYS[1], 'state', 'receiver', 'one_time', 'score')
if not v[1] then return -1 end
if v[3] ~= '1' then return -2 end
if v[1] == 'consumed' then return 0 end
redis.call('HSET', KEYS[1], 'state', 'consumed')
redis.call('HDEL', KEYS[1], 'body')
redis.call('ZREM', 'pending:' .. v[2], ARGV[1])
redis.call('ZADD', KEYS[2], v[4], ARGV[1])
return 1`)

	deleteScript = redis.NewScript(`
local receiver = redis.call('HGET', KEYS[1], 'receiver')
if not receiver then return 0 end
redis.call('ZREM', 'pending:' .. receiver, ARGV[1])
redis.call('ZREM', KEYS[2], ARGV[1])
redis.call('DEL', KEYS[1])
return 1`)

	pruneScript = redis.NewScript(`
local ids = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', '(' .. ARGV[1])
for _, id in ipairs(ids) do
  redis.call('DEL', 'env:' .. id)
end
redis.call('ZREMRANGEBYSCORE', KEYS[1], '-inf', '(' .. ARGV[1])
return #ids`)
)

type (
	RedisStore struct {
		redis *redisSvc.RedisService
	}
)

func NewRedisStore(r *redisSvc.RedisService) *RedisStore {
	return &RedisStore{redis: r}
}

func envKey(id string) string {
	return "env:" + id
}

func pendingKey(receiverID string) string {
	return "pending:" + receiverID
}

func (s *RedisStore) Enqueue(ctx context.Context, env *model.Envelope) error {
	if err := env.Validate(); err != nil {
		return err
	}
	stored := *env
	stored.State = model.StateQueued
	body, err := json.Marshal(&stored)
	if err != nil {
		return err
	}
	oneTime := "0"
	if env.OneTime {
		oneTime = "1"
	}
	_, err = s.redis.Run(ctx, enqueueScript, []string{envKey(env.ID)},
		env.ID, body, env.ReceiverID, oneTime, createdScore(env.CreatedAt))
	if err != nil {
		return fmt.Errorf("enqueue %s: %w", env.ID, err)
	}
	return nil
}

func (s *RedisStore) DrainFor(ctx context.Context, receiverID string) ([]*model.Envelope, error) {
	res, err := s.redis.Run(ctx, drainScript, []string{pendingKey(receiverID)})
	if err != nil {
		return nil, fmt.Errorf("drain %s: %w", receiverID, err)
	}
	pairs, _ := res.([]any)

	envs := make([]*model.Envelope, 0, len(pairs)/2)
	for i := 0; i+1 < len(pairs); i += 2 {
		env, err := decodeRedisEnvelope(pairs[i], pairs[i+1])
		if err != nil {
			return nil, err
		}
		envs = append(envs, env)
	}
	return envs, nil
}

func (s *RedisStore) MarkDelivered(ctx context.Context, id string) (bool, error) {
	n, err := s.redis.Run(ctx, markDeliveredScript, []string{envKey(id), retiredKey}, id)
	if err != nil {
		return false, fmt.Errorf("mark delivered %s: %w", id, err)
	}
	return n.(int64) == 1, nil
}

func (s *RedisStore) Requeue(ctx context.Context, id string) error {
	if _, err := s.redis.Run(ctx, requeueScript, []string{envKey(id), retiredKey}, id); err != nil {
		return fmt.Errorf("requeue %s: %w", id, err)
	}
	return nil
}

func (s *RedisStore) MarkConsumed(ctx context.Context, id string) error {
	n, err := s.redis.Run(ctx, consumeScript, []string{envKey(id), retiredKey}, id)
	if err != nil {
		return fmt.Errorf("mark consumed %s: %w", id, err)
	}
	switch n.(int64) {
	case -1:
		return ErrNotFound
	case -2:
		return ErrNotOneTime
	}
	return nil
}

func (s *RedisStore) Delete(ctx context.Context, id string) error {
	if _, err := s.redis.Run(ctx, deleteScript, []string{envKey(id), retiredKey}, id); err != nil {
		return fmt.Errorf("delete %s: %w", id, err)
	}
	return nil
}

var getScript = redis.NewScript(`return redis.call('HMGET', KEYS[1], 'body', 'state')`)

func (s *RedisStore) Get(ctx context.Context, id string) (*model.Envelope, error) {
	res, err := s.redis.Run(ctx, getScript, []string{envKey(id)})
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", id, err)
	}
	v, _ := res.([]any)
	if len(v) != 2 || v[0] == nil {
		return nil, ErrNotFound
	}
	return decodeRedisEnvelope(v[0], v[1])
}

func (s *RedisStore) Prune(ctx context.Context, olderThan time.Time) (int, error) {
	n, err := s.redis.Run(ctx, pruneScript, []string{retiredKey}, createdScore(olderThan))
	if err != nil {
		return 0, fmt.Errorf("prune: %w", err)
	}
	return int(n.(int64)), nil
}

// Close leaves the shared client open. Its owner closes it.
func (s *RedisStore) Close() error {
	return nil
}

func decodeRedisEnvelope(body, state any) (*model.Envelope, error) {
	b, ok := body.(string)
	if !ok {
		return nil, fmt.Errorf("unexpected envelope body type %T", body)
	}
	var env model.Envelope
	if err := json.Unmarshal([]byte(b), &env); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}
	if st, ok := state.(string); ok {
		env.State = model.EnvelopeState(st)
	}
	return &env, nil
}
