package app

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"stego_chat/internal/cryptographic/signature"
	"stego_chat/internal/model"

	"github.com/gorilla/websocket"
)

var (
	ErrUserNotFound = errors.New("user not found")
	ErrUserExists   = errors.New("user already exists")
	ErrBadSignature = errors.New("shared key signature does not verify")
)

type (
	// API talks to the server's HTTP surface.
	API struct {
		base   *url.URL
		client *http.Client
	}

	Presence struct {
		UserID   string     `json:"user_id"`
		Online   bool       `json:"online"`
		LastSeen *time.Time `json:"last_seen,omitempty"`
	}
)

func NewAPI(baseURL string) (*API, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	return &API{
		base:   u,
		client: &http.Client{Timeout: 15 * time.Second},
	}, nil
}

func (a *API) endpoint(path string) string {
	u := *a.base
	u.Path = path
	return u.String()
}

func (a *API) Register(userID, name string) (*model.SharedKey, error) {
	body, err := json.Marshal(map[string]string{"user_id": userID, "name": name})
	if err != nil {
		return nil, err
	}

	resp, err := a.client.Post(a.endpoint("/users"), "application/json", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	defer io.Copy(io.Discard, resp.Body)

	switch resp.StatusCode {
	case http.StatusCreated:
	case http.StatusConflict:
		return nil, ErrUserExists
	default:
		return nil, fmt.Errorf("register: unexpected status %s", resp.Status)
	}

	var sk model.SharedKey
	if err := json.NewDecoder(resp.Body).Decode(&sk); err != nil {
		return nil, err
	}
	return &sk, nil
}

// GetSharedKeysOfUser fetches userID's published key and checks it is
// signed by the user's identity key.
func (a *API) GetSharedKeysOfUser(userID string) (*model.SharedKey, error) {
	resp, err := a.client.Get(a.endpoint("/keys/" + url.PathEscape(userID)))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	defer io.Copy(io.Discard, resp.Body)

	if resp.StatusCode == http.StatusNotFound {
		return nil, ErrUserNotFound
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("get keys: unexpected status %s", resp.Status)
	}

	var sk model.SharedKey
	if err := json.NewDecoder(resp.Body).Decode(&sk); err != nil {
		return nil, err
	}
	if sk.UserID != userID || !signature.VerifySharedKey(sk.IdentityKey, sk.UserID, sk.PublicKey, sk.Signature) {
		return nil, ErrBadSignature
	}
	return &sk, nil
}

func (a *API) Presence(userID string) (*Presence, error) {
	resp, err := a.client.Get(a.endpoint("/presence/" + url.PathEscape(userID)))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	defer io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("presence: unexpected status %s", resp.Status)
	}
	var p Presence
	if err := json.NewDecoder(resp.Body).Decode(&p); err != nil {
		return nil, err
	}
	return &p, nil
}

func (a *API) dial(userID string) (*websocket.Conn, error) {
	u := *a.base
	u.Scheme = "ws"
	if a.base.Scheme == "https" {
		u.Scheme = "wss"
	}
	u.Path = "/ws"
	u.RawQuery = url.Values{"userID": []string{userID}}.Encode()

	conn, resp, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusNotFound {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return conn, nil
}
