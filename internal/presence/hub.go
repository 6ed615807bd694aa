// Package presence tracks which users are connected and over how many
// live connections.
package presence

import (
	"context"
	"hash/fnv"
	"sort"
	"sync"
	"time"

	"stego_chat/internal/model"
	"stego_chat/internal/utils/log"

	"go.uber.org/zap"
)

const shardCount = 32

type (
	// Conn is one live connection of a user.
	Conn interface {
		ID() string
		UserID() string
		Push(ctx context.Context, evt model.Event) error
	}

	record struct {
		mu    sync.Mutex
		conns map[string]Conn
	}

	drainLock struct {
		mu   sync.Mutex
		refs int
	}

	shard struct {
		mu       sync.Mutex
		users    map[string]*record
		drains   map[string]*drainLock
		lastSeen map[string]time.Time
	}

	Hub struct {
		shards [shardCount]*shard
		now    func() time.Time
	}
)

func NewHub() *Hub {
	h := &Hub{now: time.Now}
	for i := range h.shards {
		h.shards[i] = &shard{
			users:    make(map[string]*record),
			drains:   make(map[string]*drainLock),
			lastSeen: make(map[string]time.Time),
		}
	}
	return h
}

func (h *Hub) shardFor(userID string) *shard {
	f := fnv.New32a()
	_, _ = f.Write([]byte(userID))
	return h.shards[f.Sum32()%shardCount]
}

// Connect registers conn and reports whether it is the user's first.
func (h *Hub) Connect(conn Conn) bool {
	s := h.shardFor(conn.UserID())
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.users[conn.UserID()]
	if !ok {
		rec = &record{conns: make(map[string]Conn)}
		s.users[conn.UserID()] = rec
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	rec.conns[conn.ID()] = conn
	return len(rec.conns) == 1
}

// Disconnect removes conn and reports whether it was the user's last.
// Unknown connections are ignored.
func (h *Hub) Disconnect(conn Conn) bool {
	s := h.shardFor(conn.UserID())
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.users[conn.UserID()]
	if !ok {
		return false
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if _, ok := rec.conns[conn.ID()]; !ok {
		return false
	}
	delete(rec.conns, conn.ID())
	if len(rec.conns) > 0 {
		return false
	}

	delete(s.users, conn.UserID())
	s.lastSeen[conn.UserID()] = h.now()
	return true
}

func (h *Hub) IsOnline(userID string) bool {
	s := h.shardFor(userID)
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.users[userID]
	return ok
}

// Connections returns a snapshot ordered by connection id.
func (h *Hub) Connections(userID string) []Conn {
	s := h.shardFor(userID)
	s.mu.Lock()
	rec, ok := s.users[userID]
	s.mu.Unlock()
	if !ok {
		return nil
	}

	rec.mu.Lock()
	conns := make([]Conn, 0, len(rec.conns))
	for _, c := range rec.conns {
		conns = append(conns, c)
	}
	rec.mu.Unlock()

	sort.Slice(conns, func(i, j int) bool { return conns[i].ID() < conns[j].ID() })
	return conns
}

// OnlineSubset keeps the online users of ids, in input order.
func (h *Hub) OnlineSubset(ids []string) []string {
	online := make([]string, 0, len(ids))
	for _, id := range ids {
		if h.IsOnline(id) {
			online = append(online, id)
		}
	}
	return online
}

// Push sends evt to every connection of userID independently. One failing
// connection does not stop the others.
func (h *Hub) Push(ctx context.Context, userID string, evt model.Event) (delivered, failed int) {
	for _, conn := range h.Connections(userID) {
		if err := conn.Push(ctx, evt); err != nil {
			log.Debug("push failed",
				zap.String("user_id", userID),
				zap.String("conn_id", conn.ID()),
				zap.Stringer("event", evt.Kind),
				zap.Error(err),
			)
			failed++
			continue
		}
		delivered++
	}
	return delivered, failed
}

// LastSeen returns when the user's last connection went away. It reports
// false for users that are online or have not disconnected since start.
func (h *Hub) LastSeen(userID string) (time.Time, bool) {
	s := h.shardFor(userID)
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, online := s.users[userID]; online {
		return time.Time{}, false
	}
	t, ok := s.lastSeen[userID]
	return t, ok
}

// LockDrain serializes delivery to one user: connect-time flushes and
// routing of new envelopes. The returned func releases the lock.
func (h *Hub) LockDrain(userID string) func() {
	s := h.shardFor(userID)
	s.mu.Lock()
	dl, ok := s.drains[userID]
	if !ok {
		dl = &drainLock{}
		s.drains[userID] = dl
	}
	dl.refs++
	s.mu.Unlock()

	dl.mu.Lock()
	return func() {
		dl.mu.Unlock()
		s.mu.Lock()
		dl.refs--
		if dl.refs == 0 {
			delete(s.drains, userID)
		}
		s.mu.Unlock()
	}
}
