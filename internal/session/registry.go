package session

import (
	"log/slog"
	"sync"
	"time"

	"wordimposter/backend/internal/apperr"
	"wordimposter/backend/internal/store"
)

// Binding ties a live connection to a player identity. Bindings are
// process-local and rebuilt on reconnect; they never survive a restart.
type Binding struct {
	ConnID       string
	UserID       uint
	PlayerID     uint
	RoomID       uint
	LastActivity time.Time
}

// Stats is a snapshot of registry occupancy.
type Stats struct {
	Connections int `json:"connections"`
	Rooms       int `json:"rooms"`
}

// Registry maps connections to players and rooms. It is mutated from
// connect/disconnect/rebind events across all rooms concurrently, so it
// carries its own lock, independent of any per-room serialization.
type Registry struct {
	store  store.Store
	logger *slog.Logger

	mu       sync.RWMutex
	byConn   map[string]*Binding
	byPlayer map[uint]string          // playerID -> connID
	byRoom   map[uint]map[string]bool // roomID -> connIDs
}

// NewRegistry creates an empty session registry.
func NewRegistry(st store.Store, logger *slog.Logger) *Registry {
	return &Registry{
		store:    st,
		logger:   logger,
		byConn:   make(map[string]*Binding),
		byPlayer: make(map[uint]string),
		byRoom:   make(map[uint]map[string]bool),
	}
}

// Bind resolves the player row for (userID, roomID) and binds connID to it.
// Binding is idempotent per (userID, roomID): a prior binding for the pair
// is replaced and its connection id returned so the transport can close it.
// Without a player row the bind fails; the caller must join the room first.
func (r *Registry) Bind(connID string, userID, roomID uint) (playerID uint, replaced string, err error) {
	player, err := r.store.GetPlayerByUserAndRoom(userID, roomID)
	if err != nil {
		if apperr.Is(err, apperr.CodeNotFound) {
			return 0, "", apperr.NotAuthorized("not in room: join before binding")
		}
		return 0, "", err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if oldConn, ok := r.byPlayer[player.ID]; ok && oldConn != connID {
		replaced = oldConn
		r.removeLocked(oldConn)
	}

	binding := &Binding{
		ConnID:       connID,
		UserID:       userID,
		PlayerID:     player.ID,
		RoomID:       roomID,
		LastActivity: time.Now(),
	}
	r.byConn[connID] = binding
	r.byPlayer[player.ID] = connID
	if r.byRoom[roomID] == nil {
		r.byRoom[roomID] = make(map[string]bool)
	}
	r.byRoom[roomID][connID] = true

	r.logger.Debug("session bound",
		"conn_id", connID,
		"user_id", userID,
		"player_id", player.ID,
		"room_id", roomID,
		"replaced", replaced)

	return player.ID, replaced, nil
}

// Unbind drops the binding for connID, returning it if one existed.
func (r *Registry) Unbind(connID string) (*Binding, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	binding, ok := r.byConn[connID]
	if !ok {
		return nil, false
	}
	r.removeLocked(connID)
	return binding, true
}

func (r *Registry) removeLocked(connID string) {
	binding, ok := r.byConn[connID]
	if !ok {
		return
	}
	delete(r.byConn, connID)
	if r.byPlayer[binding.PlayerID] == connID {
		delete(r.byPlayer, binding.PlayerID)
	}
	if conns, ok := r.byRoom[binding.RoomID]; ok {
		delete(conns, connID)
		if len(conns) == 0 {
			delete(r.byRoom, binding.RoomID)
		}
	}
}

// LookupByConn returns the binding for a connection.
func (r *Registry) LookupByConn(connID string) (*Binding, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	binding, ok := r.byConn[connID]
	if !ok {
		return nil, false
	}
	b := *binding
	return &b, true
}

// LookupByPlayer returns the binding for a player, if one is live.
func (r *Registry) LookupByPlayer(playerID uint) (*Binding, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	connID, ok := r.byPlayer[playerID]
	if !ok {
		return nil, false
	}
	binding, ok := r.byConn[connID]
	if !ok {
		return nil, false
	}
	b := *binding
	return &b, true
}

// LookupByRoom returns the bindings of every connection bound to the room.
func (r *Registry) LookupByRoom(roomID uint) []Binding {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conns := r.byRoom[roomID]
	bindings := make([]Binding, 0, len(conns))
	for connID := range conns {
		if binding, ok := r.byConn[connID]; ok {
			bindings = append(bindings, *binding)
		}
	}
	return bindings
}

// Touch refreshes the binding's activity timestamp.
func (r *Registry) Touch(connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if binding, ok := r.byConn[connID]; ok {
		binding.LastActivity = time.Now()
	}
}

// Stats reports current occupancy.
func (r *Registry) Stats() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return Stats{
		Connections: len(r.byConn),
		Rooms:       len(r.byRoom),
	}
}
