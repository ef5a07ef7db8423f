package room

import (
	"crypto/rand"
	"log/slog"
	"strings"
	"sync"
	"time"

	"wordimposter/backend/internal/apperr"
	"wordimposter/backend/internal/hub"
	"wordimposter/backend/internal/models"
	"wordimposter/backend/internal/session"
	"wordimposter/backend/internal/store"
)

// codeAlphabet is the room code character set: uppercase letters and digits,
// drawn uniformly at random for a fixed length of 6.
const (
	codeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	codeLength   = 6

	// codeAttempts bounds collision retries against active codes.
	codeAttempts = 10
)

// Settings carries the configuration the manager consumes.
type Settings struct {
	MinCapacity    int
	MaxCapacity    int
	ReconnectGrace time.Duration
	RoomReapAfter  time.Duration
	GameRetention  time.Duration
}

// CreateInput are the host-supplied settings for a new room.
type CreateInput struct {
	Name       string
	Visibility models.Visibility
	Capacity   int
}

// UpdateInput are the settings a host may change on an existing room.
// Nil fields are left untouched.
type UpdateInput struct {
	Name       *string
	Visibility *models.Visibility
	Capacity   *int
}

// Manager owns the lifecycle of rooms: create/join/leave/update/delete,
// host transfer and empty-room reaping. Every mutating operation for a
// given room runs through that room's serialization point, so concurrent
// leaves, joins and disconnects observe each other's effects in order.
type Manager struct {
	store    store.Store
	registry *session.Registry
	hub      *hub.Hub
	logger   *slog.Logger
	settings Settings

	mu        sync.Mutex
	roomLocks map[uint]*sync.Mutex

	timerMu     sync.Mutex
	graceTimers map[uint]*time.Timer // playerID -> reconnection grace timer

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewManager creates a room manager and starts its reap loop.
func NewManager(st store.Store, registry *session.Registry, h *hub.Hub, settings Settings, logger *slog.Logger) *Manager {
	m := &Manager{
		store:       st,
		registry:    registry,
		hub:         h,
		logger:      logger,
		settings:    settings,
		roomLocks:   make(map[uint]*sync.Mutex),
		graceTimers: make(map[uint]*time.Timer),
		stopCh:      make(chan struct{}),
	}

	m.wg.Add(1)
	go m.reapLoop()

	return m
}

// WithRoom runs fn while holding the room's serialization point. Reads done
// inside fn for broadcast purposes therefore never observe a state that a
// concurrent mutation has already superseded.
func (m *Manager) WithRoom(roomID uint, fn func() error) error {
	m.mu.Lock()
	lock, ok := m.roomLocks[roomID]
	if !ok {
		lock = &sync.Mutex{}
		m.roomLocks[roomID] = lock
	}
	m.mu.Unlock()

	lock.Lock()
	defer lock.Unlock()
	return fn()
}

// CreateRoom generates a unique code, then creates the room and its host
// player atomically. Public rooms announce themselves on the room list.
func (m *Manager) CreateRoom(hostUserID uint, input CreateInput) (*models.Room, *models.Player, error) {
	if input.Capacity < m.settings.MinCapacity || input.Capacity > m.settings.MaxCapacity {
		return nil, nil, apperr.Validation("capacity must be between %d and %d",
			m.settings.MinCapacity, m.settings.MaxCapacity)
	}
	if input.Visibility != models.VisibilityPublic && input.Visibility != models.VisibilityPrivate {
		return nil, nil, apperr.Validation("visibility must be public or private")
	}

	code, err := m.generateCode()
	if err != nil {
		return nil, nil, err
	}

	now := time.Now()
	room := &models.Room{
		Code:       code,
		Name:       strings.TrimSpace(input.Name),
		Visibility: input.Visibility,
		Capacity:   input.Capacity,
		Active:     true,
	}
	host := &models.Player{
		UserID:   hostUserID,
		IsHost:   true,
		IsOnline: true,
		JoinedAt: now,
		LastSeen: now,
	}

	if err := m.store.CreateRoom(room, host); err != nil {
		return nil, nil, err
	}

	m.logger.Info("room created",
		"room_id", room.ID,
		"code", room.Code,
		"host_user_id", hostUserID,
		"capacity", room.Capacity,
		"visibility", room.Visibility)

	if room.Visibility == models.VisibilityPublic {
		m.hub.BroadcastGlobal(hub.Event{Type: hub.EventRoomListChanged})
	}

	return room, host, nil
}

// JoinRoom adds the user to the room identified by code, or flips their
// existing player row back online when rejoining (rejoined=true).
func (m *Manager) JoinRoom(code string, userID uint) (*models.Room, *models.Player, bool, error) {
	room, err := m.store.GetRoomByCode(strings.ToUpper(strings.TrimSpace(code)))
	if err != nil {
		return nil, nil, false, err
	}

	var player *models.Player
	var rejoined bool
	err = m.WithRoom(room.ID, func() error {
		// The lookup above ran outside the lock; a leave that won the
		// serialization point may have deleted or deactivated the room
		// in the meantime.
		current, err := m.store.GetRoomByID(room.ID)
		if err != nil {
			return err
		}
		if !current.Active {
			return apperr.Capacity("room %s is inactive", current.Code)
		}
		room = current

		existing, err := m.store.GetPlayerByUserAndRoom(userID, room.ID)
		if err == nil {
			// Rejoin: reuse the row, no new seat taken.
			existing.IsOnline = true
			existing.LastSeen = time.Now()
			if err := m.store.UpdatePlayer(existing); err != nil {
				return err
			}
			player = existing
			rejoined = true
			m.cancelGrace(existing.ID)
			return nil
		}
		if !apperr.Is(err, apperr.CodeNotFound) {
			return err
		}

		players, err := m.store.ListPlayersInRoom(room.ID)
		if err != nil {
			return err
		}
		if len(players) >= room.Capacity {
			return apperr.Capacity("room %s is full", room.Code)
		}

		now := time.Now()
		player = &models.Player{
			UserID:   userID,
			RoomID:   room.ID,
			IsOnline: true,
			JoinedAt: now,
			LastSeen: now,
		}
		return m.store.CreatePlayer(player)
	})
	if err != nil {
		return nil, nil, false, err
	}

	m.logger.Info("player joined room",
		"room_id", room.ID,
		"user_id", userID,
		"player_id", player.ID,
		"rejoined", rejoined)

	return room, player, rejoined, nil
}

// AnnounceJoin broadcasts the join once the connection is bound, so the
// joining player's own socket observes the event too.
func (m *Manager) AnnounceJoin(roomID uint, player *models.Player) {
	m.hub.Broadcast(roomID, hub.Event{
		Type:    hub.EventPlayerJoined,
		Payload: playerInfo(player),
	})
	m.broadcastRoomState(roomID)
}

// Leave removes the player from their room immediately, transferring the
// host role or deleting the room as needed.
func (m *Manager) Leave(playerID uint) error {
	player, err := m.store.GetPlayer(playerID)
	if err != nil {
		return err
	}
	m.cancelGrace(playerID)
	return m.WithRoom(player.RoomID, func() error {
		return m.removePlayer(player.RoomID, playerID)
	})
}

// Disconnect marks the player offline and arms the reconnection grace
// timer. Only expiry without a rebind executes the removal path; a rebind
// within the window cancels it with no other side effects.
func (m *Manager) Disconnect(connID string) error {
	binding, ok := m.registry.Unbind(connID)
	if !ok {
		return nil
	}

	err := m.WithRoom(binding.RoomID, func() error {
		player, err := m.store.GetPlayer(binding.PlayerID)
		if err != nil {
			if apperr.Is(err, apperr.CodeNotFound) {
				return nil // already removed
			}
			return err
		}
		player.IsOnline = false
		player.LastSeen = time.Now()
		if err := m.store.UpdatePlayer(player); err != nil {
			return err
		}
		m.broadcastRoomState(binding.RoomID)
		return nil
	})
	if err != nil {
		return err
	}

	m.armGrace(binding.RoomID, binding.PlayerID)

	m.logger.Info("player disconnected, grace timer armed",
		"room_id", binding.RoomID,
		"player_id", binding.PlayerID,
		"grace", m.settings.ReconnectGrace)

	return nil
}

// Rebind flips the player back online after a reconnect inside the grace
// window. The host role is untouched, so no HostChanged event fires.
func (m *Manager) Rebind(roomID, playerID uint) error {
	m.cancelGrace(playerID)
	return m.WithRoom(roomID, func() error {
		player, err := m.store.GetPlayer(playerID)
		if err != nil {
			return err
		}
		if !player.IsOnline {
			player.IsOnline = true
			player.LastSeen = time.Now()
			if err := m.store.UpdatePlayer(player); err != nil {
				return err
			}
		}
		m.broadcastRoomState(roomID)
		return nil
	})
}

// UpdateSettings applies host-only changes to a room.
func (m *Manager) UpdateSettings(roomID, requesterID uint, input UpdateInput) (*models.Room, error) {
	var room *models.Room
	err := m.WithRoom(roomID, func() error {
		requester, err := m.store.GetPlayer(requesterID)
		if err != nil {
			return err
		}
		if requester.RoomID != roomID || !requester.IsHost {
			return apperr.NotAuthorized("only the host can update room settings")
		}

		room, err = m.store.GetRoomByID(roomID)
		if err != nil {
			return err
		}

		wasPublic := room.Visibility == models.VisibilityPublic

		if input.Name != nil {
			room.Name = strings.TrimSpace(*input.Name)
		}
		if input.Visibility != nil {
			if *input.Visibility != models.VisibilityPublic && *input.Visibility != models.VisibilityPrivate {
				return apperr.Validation("visibility must be public or private")
			}
			room.Visibility = *input.Visibility
		}
		if input.Capacity != nil {
			if *input.Capacity < m.settings.MinCapacity || *input.Capacity > m.settings.MaxCapacity {
				return apperr.Validation("capacity must be between %d and %d",
					m.settings.MinCapacity, m.settings.MaxCapacity)
			}
			players, err := m.store.ListPlayersInRoom(roomID)
			if err != nil {
				return err
			}
			if len(players) > *input.Capacity {
				return apperr.Validation("capacity cannot be below current player count %d", len(players))
			}
			room.Capacity = *input.Capacity
		}

		if err := m.store.UpdateRoom(room); err != nil {
			return err
		}

		m.broadcastRoomState(roomID)
		if wasPublic != (room.Visibility == models.VisibilityPublic) {
			m.hub.BroadcastGlobal(hub.Event{Type: hub.EventRoomListChanged})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return room, nil
}

// removePlayer is the single removal path shared by explicit leaves and
// grace-timer expiry. Caller must hold the room's serialization point.
//
// If the leaving player is the host, host transfer and removal commit in
// one transaction; a room left with no online players is deleted together
// with its active game.
func (m *Manager) removePlayer(roomID, playerID uint) error {
	player, err := m.store.GetPlayer(playerID)
	if err != nil {
		if apperr.Is(err, apperr.CodeNotFound) {
			return nil // concurrent removal already handled it
		}
		return err
	}

	online, err := m.store.ListOnlinePlayersInRoom(roomID)
	if err != nil {
		return err
	}

	// Remaining online players, excluding the one leaving.
	var remaining []models.Player
	for _, p := range online {
		if p.ID != playerID {
			remaining = append(remaining, p)
		}
	}

	if len(remaining) == 0 {
		return m.deleteRoom(roomID)
	}

	if player.IsHost {
		// The next host is the earliest-joined online player; the list is
		// already ordered by JoinedAt. Removal and reassignment commit
		// together or not at all.
		next := remaining[0]
		err := m.store.Tx(func(tx store.Store) error {
			if err := tx.TransferHost(playerID, next.ID); err != nil {
				return err
			}
			return tx.DeletePlayer(playerID)
		})
		if err != nil {
			return err
		}

		m.logger.Info("host transferred",
			"room_id", roomID,
			"old_host", playerID,
			"new_host", next.ID)

		m.hub.Broadcast(roomID, hub.Event{
			Type: hub.EventHostChanged,
			Payload: map[string]any{
				"player_id": next.ID,
				"user_id":   next.UserID,
			},
		})
	} else {
		if err := m.store.DeletePlayer(playerID); err != nil {
			return err
		}
	}

	m.hub.Broadcast(roomID, hub.Event{
		Type:    hub.EventPlayerLeft,
		Payload: map[string]any{"player_id": playerID},
	})
	m.broadcastRoomState(roomID)
	return nil
}

// deleteRoom tears a room down: active game, player rows, grace timers and
// the room itself. Caller must hold the room's serialization point.
func (m *Manager) deleteRoom(roomID uint) error {
	room, err := m.store.GetRoomByID(roomID)
	if err != nil {
		if apperr.Is(err, apperr.CodeNotFound) {
			return nil
		}
		return err
	}

	players, err := m.store.ListPlayersInRoom(roomID)
	if err != nil {
		return err
	}
	for _, p := range players {
		m.cancelGrace(p.ID)
	}

	if err := m.store.DeleteRoom(roomID); err != nil {
		return err
	}

	m.logger.Info("room deleted", "room_id", roomID, "code", room.Code)

	if room.Visibility == models.VisibilityPublic {
		m.hub.BroadcastGlobal(hub.Event{Type: hub.EventRoomListChanged})
	}
	return nil
}

// armGrace starts (or restarts) the reconnection grace timer for a player.
func (m *Manager) armGrace(roomID, playerID uint) {
	m.timerMu.Lock()
	defer m.timerMu.Unlock()

	if old, ok := m.graceTimers[playerID]; ok {
		old.Stop()
	}
	m.graceTimers[playerID] = time.AfterFunc(m.settings.ReconnectGrace, func() {
		m.onGraceExpired(roomID, playerID)
	})
}

// cancelGrace stops a pending grace timer, if any.
func (m *Manager) cancelGrace(playerID uint) {
	m.timerMu.Lock()
	defer m.timerMu.Unlock()

	if t, ok := m.graceTimers[playerID]; ok {
		t.Stop()
		delete(m.graceTimers, playerID)
	}
}

func (m *Manager) onGraceExpired(roomID, playerID uint) {
	m.timerMu.Lock()
	delete(m.graceTimers, playerID)
	m.timerMu.Unlock()

	// A rebind races timer expiry: if the player came back online in the
	// meantime, the removal path must not run.
	err := m.WithRoom(roomID, func() error {
		player, err := m.store.GetPlayer(playerID)
		if err != nil {
			if apperr.Is(err, apperr.CodeNotFound) {
				return nil
			}
			return err
		}
		if player.IsOnline {
			return nil
		}
		return m.removePlayer(roomID, playerID)
	})
	if err != nil {
		m.logger.Error("grace expiry removal failed",
			"room_id", roomID,
			"player_id", playerID,
			"error", err)
	}
}

// broadcastRoomState pushes the current room snapshot to every bound
// connection. Caller must hold the room's serialization point.
func (m *Manager) broadcastRoomState(roomID uint) {
	state, err := m.State(roomID)
	if err != nil {
		if !apperr.Is(err, apperr.CodeNotFound) {
			m.logger.Error("build room state", "room_id", roomID, "error", err)
		}
		return
	}
	m.hub.Broadcast(roomID, hub.Event{Type: hub.EventRoomUpdated, Payload: state})
}

// reapLoop periodically deletes rooms that have sat idle with nobody
// online, and finished games past retention.
func (m *Manager) reapLoop() {
	defer m.wg.Done()

	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.reapOnce()
		case <-m.stopCh:
			return
		}
	}
}

// ReapNow runs one reap pass; exported for tests.
func (m *Manager) ReapNow() {
	m.reapOnce()
}

func (m *Manager) reapOnce() {
	rooms, err := m.store.ListActiveRooms()
	if err != nil {
		m.logger.Error("reap: list rooms", "error", err)
		return
	}

	cutoff := time.Now().Add(-m.settings.RoomReapAfter)
	for _, room := range rooms {
		roomID := room.ID
		err := m.WithRoom(roomID, func() error {
			online, err := m.store.ListOnlinePlayersInRoom(roomID)
			if err != nil {
				return err
			}
			if len(online) > 0 {
				return nil
			}
			players, err := m.store.ListPlayersInRoom(roomID)
			if err != nil {
				return err
			}
			for _, p := range players {
				if p.LastSeen.After(cutoff) {
					return nil
				}
			}
			m.logger.Info("reaping idle room", "room_id", roomID, "code", room.Code)
			return m.deleteRoom(roomID)
		})
		if err != nil {
			m.logger.Error("reap room", "room_id", roomID, "error", err)
		}
	}

	if err := m.store.DeleteCompletedGamesBefore(time.Now().Add(-m.settings.GameRetention)); err != nil {
		m.logger.Error("reap completed games", "error", err)
	}
}

// Stop terminates the reap loop and cancels outstanding grace timers.
func (m *Manager) Stop() {
	close(m.stopCh)
	m.wg.Wait()

	m.timerMu.Lock()
	for id, t := range m.graceTimers {
		t.Stop()
		delete(m.graceTimers, id)
	}
	m.timerMu.Unlock()
}

// generateCode samples the code alphabet uniformly and retries on
// collision against currently-active codes.
func (m *Manager) generateCode() (string, error) {
	// Bytes at or above this are rejected; 256 is not a multiple of the
	// alphabet size, so taking every byte modulo would skew the low letters.
	limit := 256 - 256%len(codeAlphabet)

	for attempt := 0; attempt < codeAttempts; attempt++ {
		code := make([]byte, codeLength)
		for i := 0; i < codeLength; {
			var b [1]byte
			if _, err := rand.Read(b[:]); err != nil {
				return "", apperr.Internal(err)
			}
			if int(b[0]) >= limit {
				continue
			}
			code[i] = codeAlphabet[int(b[0])%len(codeAlphabet)]
			i++
		}

		_, err := m.store.GetRoomByCode(string(code))
		if apperr.Is(err, apperr.CodeNotFound) {
			return string(code), nil
		}
		if err != nil && !apperr.Is(err, apperr.CodeNotFound) {
			return "", err
		}
	}
	return "", apperr.Conflict("could not generate a unique room code")
}
