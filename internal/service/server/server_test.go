package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"stego_chat/internal/cryptographic/signature"
	"stego_chat/internal/delivery"
	"stego_chat/internal/dispatch"
	"stego_chat/internal/model"
	"stego_chat/internal/presence"
	contactRepo "stego_chat/internal/repository/contact"
	userRepo "stego_chat/internal/repository/user"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memDirectory struct {
	mu     sync.Mutex
	master []byte
	users  map[string]*model.User
}

func (d *memDirectory) Register(_ context.Context, userID, name string) (*model.User, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.users[userID]; ok {
		return nil, userRepo.ErrExists
	}
	u, err := userRepo.NewUser(d.master, userID, name)
	if err != nil {
		return nil, err
	}
	d.users[userID] = u
	return u, nil
}

func (d *memDirectory) get(userID string) (*model.User, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	u, ok := d.users[userID]
	if !ok {
		return nil, userRepo.ErrNotFound
	}
	return u, nil
}

func (d *memDirectory) GetSharedKey(_ context.Context, userID string) (*model.SharedKey, error) {
	u, err := d.get(userID)
	if err != nil {
		return nil, err
	}
	return userRepo.SharedKeyOf(u), nil
}

func (d *memDirectory) GetPublicKey(_ context.Context, userID string) (string, error) {
	u, err := d.get(userID)
	if err != nil {
		return "", err
	}
	return u.PublicKey, nil
}

func (d *memDirectory) GetPrivateKey(_ context.Context, userID string) (string, error) {
	u, err := d.get(userID)
	if err != nil {
		return "", err
	}
	return userRepo.OpenPrivateKey(d.master, u)
}

// strangers is a relationship graph with no contacts, chats or blocks.
type strangers struct{}

func (strangers) IsBlocked(context.Context, string, string) (bool, error) { return false, nil }
func (strangers) Contacts(context.Context, string) ([]string, error) { return nil, nil }
func (strangers) ChatMembers(context.Context, string) ([]string, error) { return nil, nil }
func (strangers) SendFriendRequest(context.Context, string, string) error { return nil }
func (strangers) AnswerFriendRequest(context.Context, string, string, model.FriendRequestStatus) error {
	return nil
}
func (strangers) Block(context.Context, string, string) error { return nil }
func (strangers) Unblock(context.Context, string, string) error { return nil }

// memChats adds chat membership to strangers.
type memChats struct {
	strangers
	mu    sync.Mutex
	chats map[string]*model.Chat
}

func (c *memChats) CreateChat(_ context.Context, chat *model.Chat) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.chats[chat.ChatID]; ok {
		return contactRepo.ErrChatExists
	}
	c.chats[chat.ChatID] = chat
	return nil
}

func (c *memChats) ChatMembers(_ context.Context, chatID string) ([]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	chat, ok := c.chats[chatID]
	if !ok {
		return nil, contactRepo.ErrChatNotFound
	}
	return chat.Members, nil
}

func newTestServer(t *testing.T) (*httptest.Server, *memDirectory) {
	t.Helper()
	dir := &memDirectory{master: bytes.Repeat([]byte{7}, 32), users: make(map[string]*model.User)}
	chats := &memChats{chats: make(map[string]*model.Chat)}

	store, err := delivery.OpenSQLite(filepath.Join(t.TempDir(), "delivery.db"))
	require.NoError(t, err)

	engine := dispatch.New(dispatch.Config{CodecSecret: "server test codec secret"}, dir, chats, store, presence.NewHub(), nil)
	s := NewHttpServer("127.0.0.1:0", engine, dir, chats, nil)
	ts := httptest.NewServer(s.Router())
	t.Cleanup(func() {
		_ = s.Shutdown(context.Background())
		ts.Close()
		_ = store.Close()
	})
	return ts, dir
}

func dial(t *testing.T, ts *httptest.Server, userID string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws?userID=" + userID
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readUntil(t *testing.T, conn *websocket.Conn, kind model.EventKind) model.Event {
	t.Helper()
	for {
		conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		_, data, err := conn.ReadMessage()
		require.NoError(t, err)
		evt, err := model.DecodeEvent(data)
		require.NoError(t, err)
		if evt.Kind == kind {
			return evt
		}
	}
}

func TestWebsocketSendAndOpen(t *testing.T) {
	ts, dir := newTestServer(t)
	ctx := context.Background()
	_, err := dir.Register(ctx, "alice", "Alice")
	require.NoError(t, err)
	_, err = dir.Register(ctx, "bob", "Bob")
	require.NoError(t, err)

	bob := dial(t, ts, "bob")
	readUntil(t, bob, model.EventReceiveOnlineContacts)
	alice := dial(t, ts, "alice")
	readUntil(t, alice, model.EventReceiveOnlineContacts)

	require.NoError(t, alice.WriteJSON(model.Command{Kind: model.CommandSend, To: "bob", Text: "hello bob"}))
	msg := readUntil(t, bob, model.EventReceiveMessage).Data.(model.MessageEvent)
	assert.Equal(t, "alice", msg.SenderID)
	assert.NotContains(t, string(msg.Image), "hello bob")

	require.NoError(t, bob.WriteJSON(model.Command{Kind: model.CommandOpen, Image: msg.Image}))
	opened := readUntil(t, bob, model.EventMessageOpened).Data.(model.OpenedEvent)
	assert.Equal(t, "hello bob", string(opened.Plaintext))
	assert.Equal(t, "alice", opened.SenderID)

	require.NoError(t, alice.WriteJSON(model.Command{Kind: model.CommandOpen, Image: msg.Image}))
	failed := readUntil(t, alice, model.EventError).Data.(model.ErrorEvent)
	assert.Equal(t, "open", failed.Command)
	assert.Equal(t, dispatch.ErrCannotOpen.Error(), failed.Message)

	require.NoError(t, alice.WriteJSON(model.Command{Kind: model.CommandSend, To: "nobody", Text: "x"}))
	failed = readUntil(t, alice, model.EventError).Data.(model.ErrorEvent)
	assert.Equal(t, "unknown recipient", failed.Message)

	require.NoError(t, alice.WriteJSON(model.Command{Kind: "dance"}))
	failed = readUntil(t, alice, model.EventError).Data.(model.ErrorEvent)
	assert.Equal(t, "request failed", failed.Message)

	require.NoError(t, alice.WriteMessage(websocket.TextMessage, []byte("{not json")))
	failed = readUntil(t, alice, model.EventError).Data.(model.ErrorEvent)
	assert.Equal(t, "malformed command", failed.Message)
}

func TestWebsocketOfflineDelivery(t *testing.T) {
	ts, dir := newTestServer(t)
	ctx := context.Background()
	_, err := dir.Register(ctx, "alice", "Alice")
	require.NoError(t, err)
	_, err = dir.Register(ctx, "bob", "Bob")
	require.NoError(t, err)

	alice := dial(t, ts, "alice")
	readUntil(t, alice, model.EventReceiveOnlineContacts)
	require.NoError(t, alice.WriteJSON(model.Command{Kind: model.CommandSend, To: "bob", Text: "while you were out", OneTime: true}))

	// commands run in order, so the error for the next one means the send
	// has been persisted
	require.NoError(t, alice.WriteJSON(model.Command{Kind: "sync"}))
	readUntil(t, alice, model.EventError)

	bob := dial(t, ts, "bob")
	evt := readUntil(t, bob, model.EventReceiveOneTimePendingMessage)
	msg := evt.Data.(model.MessageEvent)
	assert.True(t, msg.OneTime)
	assert.NotEmpty(t, msg.EnvelopeID)

	require.NoError(t, bob.WriteJSON(model.Command{Kind: model.CommandOpen, EnvelopeID: msg.EnvelopeID}))
	opened := readUntil(t, bob, model.EventMessageOpened).Data.(model.OpenedEvent)
	assert.Equal(t, "while you were out", string(opened.Plaintext))

	require.NoError(t, bob.WriteJSON(model.Command{Kind: model.CommandAck, EnvelopeID: msg.EnvelopeID}))
	require.NoError(t, bob.WriteJSON(model.Command{Kind: model.CommandOpen, EnvelopeID: msg.EnvelopeID}))
	failed := readUntil(t, bob, model.EventError).Data.(model.ErrorEvent)
	assert.Equal(t, dispatch.ErrCannotOpen.Error(), failed.Message)
}

func TestRegisterAndKeys(t *testing.T) {
	ts, _ := newTestServer(t)

	post := func(body string) *http.Response {
		resp, err := http.Post(ts.URL+"/users", "application/json", strings.NewReader(body))
		require.NoError(t, err)
		t.Cleanup(func() { resp.Body.Close() })
		return resp
	}

	resp := post(`{"user_id":"carol","name":"Carol"}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var created model.SharedKey
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&created))
	assert.Equal(t, "carol", created.UserID)

	assert.Equal(t, http.StatusConflict, post(`{"user_id":"carol"}`).StatusCode)
	assert.Equal(t, http.StatusBadRequest, post(`{}`).StatusCode)

	resp, err := http.Get(ts.URL + "/keys/carol")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var key model.SharedKey
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&key))
	assert.Equal(t, created, key)
	assert.True(t, signature.VerifySharedKey(key.IdentityKey, key.UserID, key.PublicKey, key.Signature))

	missing, err := http.Get(ts.URL + "/keys/nobody")
	require.NoError(t, err)
	defer missing.Body.Close()
	assert.Equal(t, http.StatusNotFound, missing.StatusCode)
}

func TestCreateChatAndGroupSend(t *testing.T) {
	ts, dir := newTestServer(t)
	ctx := context.Background()
	for _, id := range []string{"alice", "bob", "carol"} {
		_, err := dir.Register(ctx, id, id)
		require.NoError(t, err)
	}

	post := func(body string) *http.Response {
		resp, err := http.Post(ts.URL+"/chats", "application/json", strings.NewReader(body))
		require.NoError(t, err)
		t.Cleanup(func() { resp.Body.Close() })
		return resp
	}

	resp := post(`{"chat_id":"team","name":"Team","members":["alice","bob","carol","bob"]}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var chat model.Chat
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&chat))
	assert.Equal(t, []string{"alice", "bob", "carol"}, chat.Members)

	assert.Equal(t, http.StatusConflict, post(`{"chat_id":"team","members":["alice","bob"]}`).StatusCode)
	assert.Equal(t, http.StatusBadRequest, post(`{"members":["alice"]}`).StatusCode)
	assert.Equal(t, http.StatusBadRequest, post(`{"members":["alice","nobody"]}`).StatusCode)

	bob := dial(t, ts, "bob")
	readUntil(t, bob, model.EventReceiveOnlineContacts)
	alice := dial(t, ts, "alice")
	readUntil(t, alice, model.EventReceiveOnlineContacts)

	require.NoError(t, alice.WriteJSON(model.Command{Kind: model.CommandSendGroup, ChatID: "team", Text: "standup"}))
	msg := readUntil(t, bob, model.EventReceiveGroupMessage).Data.(model.MessageEvent)
	assert.Equal(t, "team", msg.ChatID)

	require.NoError(t, bob.WriteJSON(model.Command{Kind: model.CommandOpen, Image: msg.Image}))
	opened := readUntil(t, bob, model.EventMessageOpened).Data.(model.OpenedEvent)
	assert.Equal(t, "standup", string(opened.Plaintext))

	// carol was offline and gets it on connect, once the send has finished
	require.NoError(t, alice.WriteJSON(model.Command{Kind: "sync"}))
	readUntil(t, alice, model.EventError)
	carol := dial(t, ts, "carol")
	pending := readUntil(t, carol, model.EventReceivePendingMessage).Data.(model.PendingMessagesEvent)
	require.Len(t, pending.Messages, 1)
	assert.Equal(t, "team", pending.Messages[0].ChatID)
}

func TestWebsocketRejectsUnknownUser(t *testing.T) {
	ts, _ := newTestServer(t)

	resp, err := http.Get(ts.URL + "/ws?userID=nobody")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp2, err := http.Get(ts.URL + "/ws")
	require.NoError(t, err)
	defer resp2.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp2.StatusCode)
}

func TestPresenceEndpoint(t *testing.T) {
	ts, dir := newTestServer(t)
	_, err := dir.Register(context.Background(), "dave", "Dave")
	require.NoError(t, err)

	presenceOf := func() presenceResponse {
		resp, err := http.Get(ts.URL + "/presence/dave")
		require.NoError(t, err)
		defer resp.Body.Close()
		var p presenceResponse
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&p))
		return p
	}

	assert.False(t, presenceOf().Online)

	conn := dial(t, ts, "dave")
	readUntil(t, conn, model.EventReceiveOnlineContacts)
	assert.True(t, presenceOf().Online)

	conn.Close()
	assert.Eventually(t, func() bool {
		p := presenceOf()
		return !p.Online && p.LastSeen != nil
	}, 5*time.Second, 20*time.Millisecond)
}

func TestHealthz(t *testing.T) {
	ts, _ := newTestServer(t)
	resp, err := http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
