package hub

import (
	"encoding/json"
	"log/slog"
	"sync"
)

// Event represents a real-time event to be sent to clients.
type Event struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

// Domain event types. For a given room these are observed by every bound
// connection in exactly the order they were emitted.
const (
	EventRoomUpdated     = "room_updated"
	EventPlayerJoined    = "player_joined"
	EventPlayerLeft      = "player_left"
	EventHostChanged     = "host_changed"
	EventGameStarted     = "game_started"
	EventWordRevealed    = "word_revealed"
	EventVoteRecorded    = "vote_recorded"
	EventRoundAdvanced   = "round_advanced"
	EventGameEnded       = "game_ended"
	EventRoomListChanged = "room_list_changed"
	EventChatMessage     = "chat_message"
	EventError           = "error"
)

// Client represents a single client connection. It's essentially a channel
// the connection's write loop listens to; closing it tells the loop to stop.
type Client chan []byte

type subscriber struct {
	client   Client
	playerID uint
}

// Hub fans domain events out to the connections bound to each room.
type Hub struct {
	rooms  map[uint]map[Client]*subscriber
	global map[Client]bool // browsing clients interested in the room list
	mu     sync.RWMutex
	logger *slog.Logger
}

// NewHub creates a new Hub.
func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		rooms:  make(map[uint]map[Client]*subscriber),
		global: make(map[Client]bool),
		logger: logger,
	}
}

// Subscribe adds a client to a room's audience.
func (h *Hub) Subscribe(roomID uint, playerID uint, client Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.rooms[roomID]; !ok {
		h.rooms[roomID] = make(map[Client]*subscriber)
	}
	h.rooms[roomID][client] = &subscriber{client: client, playerID: playerID}
}

// Unsubscribe removes a client from a room's audience. The channel is not
// closed here; its owning connection closes it exactly once on teardown.
func (h *Hub) Unsubscribe(roomID uint, client Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if clients, ok := h.rooms[roomID]; ok {
		if _, ok := clients[client]; ok {
			delete(clients, client)
			if len(clients) == 0 {
				delete(h.rooms, roomID)
			}
		}
	}
}

// SubscribeGlobal registers a client for room-list change notifications.
func (h *Hub) SubscribeGlobal(client Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.global[client] = true
}

// UnsubscribeGlobal removes a room-list subscriber without closing the
// channel; the client usually still has a room subscription.
func (h *Hub) UnsubscribeGlobal(client Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.global, client)
}

// Broadcast sends an event to all clients in a room.
func (h *Hub) Broadcast(roomID uint, event Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	clients, ok := h.rooms[roomID]
	if !ok {
		return
	}
	message, err := json.Marshal(event)
	if err != nil {
		h.logger.Error("marshal event", "error", err, "type", event.Type)
		return
	}
	for client := range clients {
		h.send(client, message)
	}
}

// BroadcastPersonalized sends a per-recipient event to a room: build is
// called with each subscriber's player id and returns the event that player
// should see. Used for audience filtering, e.g. hiding the round's word
// from the imposter.
func (h *Hub) BroadcastPersonalized(roomID uint, build func(playerID uint) Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for client, sub := range h.rooms[roomID] {
		event := build(sub.playerID)
		message, err := json.Marshal(event)
		if err != nil {
			h.logger.Error("marshal event", "error", err, "type", event.Type)
			continue
		}
		h.send(client, message)
	}
}

// SendToPlayer delivers an event to a single player's connection in a room.
func (h *Hub) SendToPlayer(roomID, playerID uint, event Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for client, sub := range h.rooms[roomID] {
		if sub.playerID != playerID {
			continue
		}
		message, err := json.Marshal(event)
		if err != nil {
			h.logger.Error("marshal event", "error", err, "type", event.Type)
			return
		}
		h.send(client, message)
	}
}

// BroadcastGlobal notifies room-list subscribers, e.g. when a public room
// appears or disappears.
func (h *Hub) BroadcastGlobal(event Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	message, err := json.Marshal(event)
	if err != nil {
		h.logger.Error("marshal event", "error", err, "type", event.Type)
		return
	}
	for client := range h.global {
		h.send(client, message)
	}
}

// send is a non-blocking delivery so a slow client cannot stall the hub.
// The connection's own liveness handling cleans up clients that fall
// behind for good.
func (h *Hub) send(client Client, message []byte) {
	select {
	case client <- message:
	default:
		h.logger.Warn("dropping event for slow client")
	}
}
