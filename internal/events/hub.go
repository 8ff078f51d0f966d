package events

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/gorilla/websocket"
	"github.com/nimasrn/drone-dispatch/internal/auth"
	"github.com/nimasrn/drone-dispatch/pkg/logger"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	sendBuffer = 32
)

// RoomAuthorizer decides whether an actor may join a room.
type RoomAuthorizer func(ctx context.Context, a auth.Actor, room string) bool

// OrderParties resolves the user and seller of an order.
type OrderParties func(ctx context.Context, orderID int64) (userID, sellerID int64, err error)

// NewAuthorizer lets admins join anything, and users and sellers join their
// own user room and the rooms of orders they are party to.
func NewAuthorizer(parties OrderParties) RoomAuthorizer {
	return func(ctx context.Context, a auth.Actor, room string) bool {
		if a.IsAdmin() {
			return true
		}
		kind, key, ok := ParseRoom(room)
		if !ok {
			return false
		}
		switch kind {
		case "user":
			return key == strconv.FormatInt(a.ID, 10)
		case "order":
			orderID, err := strconv.ParseInt(key, 10, 64)
			if err != nil || parties == nil {
				return false
			}
			userID, sellerID, err := parties(ctx, orderID)
			if err != nil {
				return false
			}
			return a.IsUser(userID) || a.IsSeller(sellerID)
		}
		return false
	}
}

type client struct {
	conn  *websocket.Conn
	send  chan []byte
	actor auth.Actor
	once  sync.Once
}

func (c *client) close() {
	c.once.Do(func() { close(c.send) })
}

// Hub relays room messages to websocket clients.
type Hub struct {
	tokens    *auth.Tokens
	authorize RoomAuthorizer
	upgrader  websocket.Upgrader

	mu    sync.RWMutex
	rooms map[string]map[*client]struct{}
}

func NewHub(tokens *auth.Tokens, authorize RoomAuthorizer, allowedOrigins []string) *Hub {
	allowAll := len(allowedOrigins) == 0
	allowed := make(map[string]struct{}, len(allowedOrigins))
	for _, o := range allowedOrigins {
		if o == "*" {
			allowAll = true
		}
		allowed[o] = struct{}{}
	}

	return &Hub{
		tokens:    tokens,
		authorize: authorize,
		rooms:     make(map[string]map[*client]struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				if allowAll || origin == "" {
					return true
				}
				_, ok := allowed[origin]
				return ok
			},
		},
	}
}

// Publish delivers directly to local clients, so the hub is itself a Publisher.
func (h *Hub) Publish(_ context.Context, room, event string, payload interface{}) error {
	m, err := NewMessage(room, event, payload)
	if err != nil {
		return err
	}
	h.Broadcast(m)
	return nil
}

// Broadcast sends m to every client in m.Room, dropping it for clients whose
// buffer is full.
func (h *Hub) Broadcast(m Message) {
	body, err := json.Marshal(m)
	if err != nil {
		logger.Warn("[realtime] encode message", "error", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.rooms[m.Room] {
		select {
		case c.send <- body:
		default:
			logger.Warn("[realtime] client buffer full, dropping message", "room", m.Room, "actor", c.actor.String())
		}
	}
}

func (h *Hub) join(c *client, room string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.rooms[room]; !ok {
		h.rooms[room] = make(map[*client]struct{})
	}
	h.rooms[room][c] = struct{}{}
}

func (h *Hub) leave(c *client, room string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if members, ok := h.rooms[room]; ok {
		delete(members, c)
		if len(members) == 0 {
			delete(h.rooms, room)
		}
	}
}

func (h *Hub) leaveAll(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for room, members := range h.rooms {
		delete(members, c)
		if len(members) == 0 {
			delete(h.rooms, room)
		}
	}
}

// Members counts the clients of a room.
func (h *Hub) Members(room string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[room])
}

// Router exposes the hub at /ws behind CORS.
func (h *Hub) Router(allowedOrigins []string) http.Handler {
	r := chi.NewRouter()
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "OPTIONS"},
		AllowedHeaders:   []string{"Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	r.Get("/ws", h.ServeWS)
	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"healthy"}`))
	})
	return r
}

// ServeWS authenticates the caller, joins the requested rooms and pumps messages.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		token = strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	}
	actor, err := h.tokens.Parse(token)
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	var rooms []string
	for _, room := range strings.Split(r.URL.Query().Get("rooms"), ",") {
		room = strings.TrimSpace(room)
		if room == "" {
			continue
		}
		if !h.authorize(r.Context(), actor, room) {
			http.Error(w, "forbidden room "+room, http.StatusForbidden)
			return
		}
		rooms = append(rooms, room)
	}
	if actor.IsAdmin() {
		rooms = append(rooms, AdminsRoom)
	}
	rooms = append(rooms, UserRoom(actor.ID))

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warn("[realtime] upgrade failed", "error", err)
		return
	}

	c := &client{conn: conn, send: make(chan []byte, sendBuffer), actor: actor}
	for _, room := range rooms {
		h.join(c, room)
	}
	logger.Info("[realtime] client connected", "actor", actor.String(), "rooms", rooms)

	go h.writePump(c)
	h.readPump(r.Context(), c)
}

type command struct {
	Action string `json:"action"`
	Room   string `json:"room"`
}

// readPump handles join/leave commands until the connection drops.
func (h *Hub) readPump(ctx context.Context, c *client) {
	defer func() {
		h.leaveAll(c)
		c.close()
		_ = c.conn.Close()
		logger.Info("[realtime] client disconnected", "actor", c.actor.String())
	}()

	c.conn.SetReadLimit(4096)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var cmd command
		if err := c.conn.ReadJSON(&cmd); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Debug("[realtime] read error", "error", err)
			}
			return
		}
		switch cmd.Action {
		case "join":
			if h.authorize(ctx, c.actor, cmd.Room) {
				h.join(c, cmd.Room)
			}
		case "leave":
			h.leave(c, cmd.Room)
		}
	}
}

func (h *Hub) writePump(c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case body, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, body); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
