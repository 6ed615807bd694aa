package app

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"stego_chat/internal/model"
	"stego_chat/internal/utils/log"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var ErrNotConnected = errors.New("not connected")

type (
	// Session keeps one websocket open for a user, reconnecting with
	// exponential backoff whenever it drops.
	Session struct {
		api    *API
		userID string
		events chan model.Event

		// MaxElapsed bounds one reconnect attempt series.
		MaxElapsed time.Duration
		// OnState reports connection changes, for the status line.
		OnState func(connected bool, err error)

		mu   sync.Mutex
		conn *websocket.Conn
	}
)

func NewSession(api *API, userID string) *Session {
	return &Session{
		api:        api,
		userID:     userID,
		events:     make(chan model.Event, 64),
		MaxElapsed: 2 * time.Minute,
		OnState:    func(bool, error) {},
	}
}

func (s *Session) Events() <-chan model.Event {
	return s.events
}

// Run connects and reads until ctx is done or a reconnect series gives up.
func (s *Session) Run(ctx context.Context) error {
	defer close(s.events)

	for {
		conn, err := s.connect(ctx)
		if err != nil {
			s.OnState(false, err)
			return err
		}
		s.OnState(true, nil)

		err = s.read(ctx, conn)
		s.setConn(nil)
		conn.Close()
		if ctx.Err() != nil {
			return ctx.Err()
		}
		log.Debug("connection lost", zap.Error(err))
		s.OnState(false, err)
	}
}

func (s *Session) connect(ctx context.Context) (*websocket.Conn, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 250 * time.Millisecond
	b.MaxInterval = 10 * time.Second
	b.MaxElapsedTime = s.MaxElapsed

	var conn *websocket.Conn
	op := func() error {
		c, err := s.api.dial(s.userID)
		if errors.Is(err, ErrUserNotFound) {
			return backoff.Permanent(err)
		}
		if err != nil {
			return err
		}
		conn = c
		return nil
	}
	notify := func(err error, next time.Duration) {
		log.Debug("dial failed, retrying", zap.Duration("in", next), zap.Error(err))
	}

	if err := backoff.RetryNotify(op, backoff.WithContext(b, ctx), notify); err != nil {
		return nil, err
	}
	s.setConn(conn)
	return conn, nil
}

func (s *Session) read(ctx context.Context, conn *websocket.Conn) error {
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		evt, err := model.DecodeEvent(data)
		if err != nil {
			log.Warn("undecodable event", zap.Error(err))
			continue
		}
		select {
		case s.events <- evt:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (s *Session) setConn(c *websocket.Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conn = c
}

// Send writes one command on the current connection.
func (s *Session) Send(cmd *model.Command) error {
	data, err := json.Marshal(cmd)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return ErrNotConnected
	}
	return s.conn.WriteMessage(websocket.TextMessage, data)
}
