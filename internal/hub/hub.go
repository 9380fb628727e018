package hub

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"paywallet-core/config"
	"paywallet-core/internal/core/domain"
	"paywallet-core/internal/core/ports"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// authFrame is the first frame a client must send after upgrading.
type authFrame struct {
	Token string `json:"token"`
}

// Hub tracks at most one live connection per user and pushes ledger events
// to it. It implements ports.EventPublisher. Delivery is best effort; the
// ledger never waits on the hub.
type Hub struct {
	mu       sync.RWMutex
	clients  map[uuid.UUID]*Client
	tokenSvc ports.TokenService
	cfg      config.HubConfig
	log      zerolog.Logger
}

// NewHub creates a new Hub.
func NewHub(tokenSvc ports.TokenService, cfg config.HubConfig, log zerolog.Logger) *Hub {
	return &Hub{
		clients:  make(map[uuid.UUID]*Client),
		tokenSvc: tokenSvc,
		cfg:      cfg,
		log:      log,
	}
}

// HandleConnection upgrades the HTTP request and runs the connection
// lifecycle: first-frame token auth, registration, then the read/write
// pumps until the peer goes away.
func (h *Hub) HandleConnection(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Debug().Err(err).Msg("websocket upgrade failed")
		return
	}

	userID, err := h.authenticate(conn)
	if err != nil {
		h.log.Debug().Err(err).Msg("websocket handshake rejected")
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "authentication failed"),
			time.Now().Add(time.Second))
		conn.Close()
		return
	}

	client := &Client{
		hub:    h,
		userID: userID,
		conn:   conn,
		send:   make(chan domain.Event, h.cfg.SendBuffer),
		done:   make(chan struct{}),
		log:    h.log.With().Str("user_id", userID.String()).Logger(),
	}

	h.register(client)

	go client.writePump()
	client.readPump()
}

// authenticate reads the first frame and validates its token. The client
// gets one shot within the auth window.
func (h *Hub) authenticate(conn *websocket.Conn) (uuid.UUID, error) {
	if err := conn.SetReadDeadline(time.Now().Add(h.cfg.AuthTimeout)); err != nil {
		return uuid.Nil, err
	}

	var frame authFrame
	if err := conn.ReadJSON(&frame); err != nil {
		return uuid.Nil, err
	}

	claims, err := h.tokenSvc.Validate(frame.Token)
	if err != nil {
		return uuid.Nil, err
	}
	return claims.UserID, nil
}

// register installs a client as the user's single live connection. An
// existing connection for the same user is closed and replaced.
func (h *Hub) register(c *Client) {
	h.mu.Lock()
	old := h.clients[c.userID]
	h.clients[c.userID] = c
	h.mu.Unlock()

	if old != nil {
		old.closeSend()
		h.log.Info().Str("user_id", c.userID.String()).Msg("live connection replaced")
	} else {
		h.log.Info().Str("user_id", c.userID.String()).Msg("live connection opened")
	}
}

// deregister drops a client, but only if it is still the registered
// connection. A replaced client's teardown must not evict its successor.
func (h *Hub) deregister(c *Client) {
	h.mu.Lock()
	if h.clients[c.userID] == c {
		delete(h.clients, c.userID)
	}
	h.mu.Unlock()
}

// Publish delivers an event to the user's live connection if one exists.
// Returns false when the user has no connection, the connection is closing,
// or its buffer is full.
func (h *Hub) Publish(userID uuid.UUID, event domain.Event) bool {
	h.mu.RLock()
	client := h.clients[userID]
	h.mu.RUnlock()

	if client == nil {
		return false
	}
	return client.trySend(event)
}

// Broadcast delivers an event to every live connection.
func (h *Hub) Broadcast(event domain.Event) {
	h.mu.RLock()
	clients := make([]*Client, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	for _, c := range clients {
		c.trySend(event)
	}
}

// ConnectionCount reports the number of live connections.
func (h *Hub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Shutdown closes every live connection.
func (h *Hub) Shutdown() {
	h.mu.Lock()
	clients := make([]*Client, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	h.clients = make(map[uuid.UUID]*Client)
	h.mu.Unlock()

	for _, c := range clients {
		c.closeSend()
	}
	h.log.Info().Int("count", len(clients)).Msg("hub shut down")
}

func marshalEvent(event domain.Event) ([]byte, error) {
	return json.Marshal(event)
}
