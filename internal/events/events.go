// Package events carries dispatch state changes to realtime observers.
// Every message is addressed to a room: one per order, drone, user, plus the
// admins room.
package events

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"
	"time"
)

const (
	EventDroneUpdate     = "drone:update"
	EventNotificationNew = "notification:new"
)

// Update types carried by drone:update.
const (
	TypeCreated       = "created"
	TypeStatus        = "status"
	TypeAssigned      = "assigned"
	TypeLaunched      = "launched"
	TypeLanded        = "landed"
	TypeReturning     = "returning"
	TypeEmergencyStop = "emergency_stop"
	TypeEnRouteToShop = "en_route_to_shop"
	TypeDelivered     = "delivered"
	TypeTelemetry     = "telemetry"
)

const AdminsRoom = "admins"

func OrderRoom(orderID int64) string { return "order:" + strconv.FormatInt(orderID, 10) }
func DroneRoom(droneID string) string { return "drone:" + droneID }
func UserRoom(userID int64) string    { return "user:" + strconv.FormatInt(userID, 10) }

// ParseRoom splits a room name into its kind and key.
func ParseRoom(room string) (kind, key string, ok bool) {
	if room == AdminsRoom {
		return AdminsRoom, "", true
	}
	kind, key, found := strings.Cut(room, ":")
	if !found || key == "" {
		return "", "", false
	}
	switch kind {
	case "order", "drone", "user":
		return kind, key, true
	}
	return "", "", false
}

// Message is the envelope delivered to a room.
type Message struct {
	Room    string          `json:"room"`
	Event   string          `json:"event"`
	Type    string          `json:"type,omitempty"`
	Payload json.RawMessage `json:"payload"`
	At      time.Time       `json:"at"`
}

// Publisher pushes an event to a room.
type Publisher interface {
	Publish(ctx context.Context, room, event string, payload interface{}) error
}

// NewMessage encodes payload into an envelope. A payload exposing a "type"
// field through EventType is promoted onto the envelope.
func NewMessage(room, event string, payload interface{}) (Message, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Message{}, err
	}
	m := Message{Room: room, Event: event, Payload: raw, At: time.Now().UTC()}
	if t, ok := payload.(interface{ EventType() string }); ok {
		m.Type = t.EventType()
	}
	return m, nil
}

// DroneUpdate is the drone:update payload.
type DroneUpdate struct {
	Type    string      `json:"type"`
	OrderID int64       `json:"order_id,omitempty"`
	DroneID string      `json:"drone_id,omitempty"`
	Status  string      `json:"status,omitempty"`
	Drone   interface{} `json:"drone,omitempty"`
	Order   interface{} `json:"order,omitempty"`
	Data    interface{} `json:"data,omitempty"`
}

func (u DroneUpdate) EventType() string { return u.Type }

// Multi publishes to every wrapped publisher and returns the first error.
type Multi []Publisher

func (m Multi) Publish(ctx context.Context, room, event string, payload interface{}) error {
	var first error
	for _, p := range m {
		if err := p.Publish(ctx, room, event, payload); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Nop drops every event.
type Nop struct{}

func (Nop) Publish(context.Context, string, string, interface{}) error { return nil }
