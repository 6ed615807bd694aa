package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"stego_chat/internal/model"
	"stego_chat/internal/utils/log"

	"github.com/aquilax/truncate"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Commands carry whole images and files.
	maxMessageSize = 32 << 20

	sendBuffer = 64
)

var ErrClientClosed = errors.New("client closed")

type (
	// Client is one websocket connection. Reads happen on readPump, all
	// writes go through the send channel drained by writePump.
	Client struct {
		id     string
		userID string
		conn   *websocket.Conn
		send   chan []byte

		ctx       context.Context
		cancel    context.CancelFunc
		closeOnce sync.Once
	}
)

func NewClient(conn *websocket.Conn, userID string) *Client {
	ctx, cancel := context.WithCancel(context.Background())
	return &Client{
		id:     uuid.NewString(),
		userID: userID,
		conn:   conn,
		send:   make(chan []byte, sendBuffer),
		ctx:    ctx,
		cancel: cancel,
	}
}

func (c *Client) ID() string {
	return c.id
}

func (c *Client) UserID() string {
	return c.userID
}

// Context is cancelled when the connection goes away.
func (c *Client) Context() context.Context {
	return c.ctx
}

// Push queues evt for the write pump. It fails once the connection is
// closed or when the peer stops draining for longer than writeWait.
func (c *Client) Push(ctx context.Context, evt model.Event) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return err
	}

	timer := time.NewTimer(writeWait)
	defer timer.Stop()

	select {
	case c.send <- data:
		return nil
	case <-c.ctx.Done():
		return ErrClientClosed
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		c.Close()
		return ErrClientClosed
	}
}

func (c *Client) Close() {
	c.closeOnce.Do(func() {
		c.cancel()
		c.conn.Close()
	})
}

// readPump decodes commands until the connection fails, handing each to
// handle in order.
func (c *Client) readPump(handle func(cmd *model.Command)) {
	defer c.Close()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				log.Warn("websocket read failed", zap.String("user_id", c.userID), zap.Error(err))
			}
			return
		}

		var cmd model.Command
		if err := json.Unmarshal(data, &cmd); err != nil {
			log.Debug("malformed command",
				zap.String("user_id", c.userID),
				zap.String("frame", truncate.Truncate(fmt.Sprintf("%q", data), 64, "...", truncate.PositionMiddle)),
				zap.Error(err),
			)
			_ = c.Push(c.ctx, model.MustEvent(model.EventError, model.ErrorEvent{Message: "malformed command"}))
			continue
		}
		handle(&cmd)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Close()
	}()

	for {
		select {
		case data := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Debug("websocket write failed", zap.String("user_id", c.userID), zap.Error(err))
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.ctx.Done():
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}
