package server

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"slices"
	"sync"
	"time"

	"stego_chat/internal/dispatch"
	"stego_chat/internal/model"
	contactRepo "stego_chat/internal/repository/contact"
	userRepo "stego_chat/internal/repository/user"
	"stego_chat/internal/utils/log"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

type (
	UserDirectory interface {
		Register(ctx context.Context, userID, name string) (*model.User, error)
		GetSharedKey(ctx context.Context, userID string) (*model.SharedKey, error)
	}

	ChatDirectory interface {
		CreateChat(ctx context.Context, chat *model.Chat) error
	}

	LastSeenReader interface {
		Get(ctx context.Context, userID string) (time.Time, bool, error)
	}

	HttpServer struct {
		addr     string
		engine   *dispatch.Engine
		users    UserDirectory
		chats    ChatDirectory
		lastSeen LastSeenReader
		upgrader websocket.Upgrader
		srv      *http.Server

		mu      sync.Mutex
		clients map[*Client]struct{}
	}

	registerRequest struct {
		UserID string `json:"user_id"`
		Name   string `json:"name"`
	}

	createChatRequest struct {
		ChatID  string   `json:"chat_id"`
		Name    string   `json:"name"`
		Members []string `json:"members"`
	}

	presenceResponse struct {
		UserID   string     `json:"user_id"`
		Online   bool       `json:"online"`
		LastSeen *time.Time `json:"last_seen,omitempty"`
	}
)

// NewHttpServer wires the HTTP surface. lastSeen may be nil.
func NewHttpServer(addr string, engine *dispatch.Engine, users UserDirectory, chats ChatDirectory, lastSeen LastSeenReader) *HttpServer {
	s := &HttpServer{
		addr:     addr,
		engine:   engine,
		users:    users,
		chats:    chats,
		lastSeen: lastSeen,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				return true // Allow all origins
			},
		},
		clients: make(map[*Client]struct{}),
	}
	s.srv = &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func (s *HttpServer) Router() http.Handler {
	r := mux.NewRouter()

	r.HandleFunc("/ws", s.HandleWS()).Methods(http.MethodGet)
	r.HandleFunc("/users", s.RegisterUser()).Methods(http.MethodPost)
	r.HandleFunc("/chats", s.CreateChat()).Methods(http.MethodPost)
	r.HandleFunc("/keys/{userID}", s.GetSharedKeysOfUser()).Methods(http.MethodGet)
	r.HandleFunc("/presence/{userID}", s.GetPresence()).Methods(http.MethodGet)
	r.HandleFunc("/healthz", s.Healthz()).Methods(http.MethodGet)
	return r
}

// Start listens on the configured address and serves in the background.
func (s *HttpServer) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	log.Info("http server listening", zap.String("addr", ln.Addr().String()))

	go func() {
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server stopped", zap.Error(err))
		}
	}()
	return nil
}

// Shutdown stops accepting requests and closes every live websocket.
func (s *HttpServer) Shutdown(ctx context.Context) error {
	err := s.srv.Shutdown(ctx)

	s.mu.Lock()
	clients := make([]*Client, 0, len(s.clients))
	for c := range s.clients {
		clients = append(clients, c)
	}
	s.mu.Unlock()

	for _, c := range clients {
		c.Close()
	}
	return err
}

func (s *HttpServer) HandleWS() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := r.URL.Query().Get("userID")
		if userID == "" {
			http.Error(w, "userID cannot be empty", http.StatusBadRequest)
			return
		}

		if _, err := s.users.GetSharedKey(r.Context(), userID); err != nil {
			if errors.Is(err, userRepo.ErrNotFound) {
				http.Error(w, "user does not exist", http.StatusNotFound)
				return
			}
			log.Error("lookup user failed", zap.String("user_id", userID), zap.Error(err))
			http.Error(w, "lookup user failed", http.StatusInternalServerError)
			return
		}

		conn, err := s.upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Debug("websocket upgrade failed", zap.Error(err))
			return
		}

		client := NewClient(conn, userID)
		s.track(client, true)
		defer s.track(client, false)

		go client.writePump()

		ctx := client.Context()
		if err := s.engine.Connect(ctx, client); err != nil {
			log.Error("connect failed", zap.String("user_id", userID), zap.Error(err))
		}

		client.readPump(func(cmd *model.Command) {
			s.handleCommand(ctx, client, cmd)
		})

		s.engine.Disconnect(context.Background(), client)
	}
}

func (s *HttpServer) track(c *Client, add bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if add {
		s.clients[c] = struct{}{}
	} else {
		delete(s.clients, c)
	}
}

func (s *HttpServer) RegisterUser() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req registerRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.UserID == "" {
			http.Error(w, "user_id is required", http.StatusBadRequest)
			return
		}
		if req.Name == "" {
			req.Name = req.UserID
		}

		user, err := s.users.Register(r.Context(), req.UserID, req.Name)
		if errors.Is(err, userRepo.ErrExists) {
			http.Error(w, "user already exists", http.StatusConflict)
			return
		}
		if err != nil {
			log.Error("register user failed", zap.String("user_id", req.UserID), zap.Error(err))
			http.Error(w, "register user failed", http.StatusInternalServerError)
			return
		}

		log.Info("user registered", zap.String("user_id", user.UserID))
		writeJSON(w, http.StatusCreated, userRepo.SharedKeyOf(user))
	}
}

// CreateChat registers a group chat. Every member must be a known user.
func (s *HttpServer) CreateChat() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req createChatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "malformed request", http.StatusBadRequest)
			return
		}

		members := make([]string, 0, len(req.Members))
		for _, m := range req.Members {
			if m != "" && !slices.Contains(members, m) {
				members = append(members, m)
			}
		}
		if len(members) < 2 {
			http.Error(w, "a chat needs at least two members", http.StatusBadRequest)
			return
		}
		for _, m := range members {
			if _, err := s.users.GetSharedKey(r.Context(), m); err != nil {
				if errors.Is(err, userRepo.ErrNotFound) {
					http.Error(w, "unknown member "+m, http.StatusBadRequest)
					return
				}
				log.Error("lookup member failed", zap.String("user_id", m), zap.Error(err))
				http.Error(w, "create chat failed", http.StatusInternalServerError)
				return
			}
		}

		chat := &model.Chat{ChatID: req.ChatID, Name: req.Name, Members: members}
		if chat.ChatID == "" {
			chat.ChatID = uuid.NewString()
		}
		err := s.chats.CreateChat(r.Context(), chat)
		if errors.Is(err, contactRepo.ErrChatExists) {
			http.Error(w, "chat already exists", http.StatusConflict)
			return
		}
		if err != nil {
			log.Error("create chat failed", zap.String("chat_id", chat.ChatID), zap.Error(err))
			http.Error(w, "create chat failed", http.StatusInternalServerError)
			return
		}

		log.Info("chat created", zap.String("chat_id", chat.ChatID), zap.Int("members", len(members)))
		writeJSON(w, http.StatusCreated, chat)
	}
}

func (s *HttpServer) GetSharedKeysOfUser() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := mux.Vars(r)["userID"]

		sharedKey, err := s.users.GetSharedKey(r.Context(), userID)
		if errors.Is(err, userRepo.ErrNotFound) {
			http.Error(w, "user does not exist", http.StatusNotFound)
			return
		}
		if err != nil {
			log.Error("Get shared keys failed", zap.String("user_id", userID), zap.Error(err))
			http.Error(w, "Get shared keys failed", http.StatusInternalServerError)
			return
		}

		writeJSON(w, http.StatusOK, sharedKey)
	}
}

func (s *HttpServer) GetPresence() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := mux.Vars(r)["userID"]
		hub := s.engine.Hub()

		resp := presenceResponse{UserID: userID, Online: hub.IsOnline(userID)}
		if !resp.Online {
			if t, ok := hub.LastSeen(userID); ok {
				resp.LastSeen = &t
			} else if s.lastSeen != nil {
				t, ok, err := s.lastSeen.Get(r.Context(), userID)
				if err != nil {
					log.Warn("read last seen failed", zap.String("user_id", userID), zap.Error(err))
				}
				if ok {
					resp.LastSeen = &t
				}
			}
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func (s *HttpServer) Healthz() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		log.Error("marshal response failed", zap.Error(err))
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(data)
}
