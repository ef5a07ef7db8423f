package store

import (
	"sort"
	"sync"
	"time"

	"wordimposter/backend/internal/apperr"
	"wordimposter/backend/internal/models"
)

// Memory is a mutex-guarded in-memory Store used by tests and for running
// the server without a database.
type Memory struct {
	mu   sync.Mutex
	data *memData
	inTx bool
}

type memData struct {
	rooms   map[uint]models.Room
	players map[uint]models.Player
	games   map[uint]models.Game

	nextRoomID   uint
	nextPlayerID uint
	nextGameID   uint
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		data: &memData{
			rooms:        make(map[uint]models.Room),
			players:      make(map[uint]models.Player),
			games:        make(map[uint]models.Game),
			nextRoomID:   1,
			nextPlayerID: 1,
			nextGameID:   1,
		},
	}
}

func (s *Memory) lock() {
	if !s.inTx {
		s.mu.Lock()
	}
}

func (s *Memory) unlock() {
	if !s.inTx {
		s.mu.Unlock()
	}
}

func copyGame(g models.Game) models.Game {
	g.WordGiverQueue = append([]uint(nil), g.WordGiverQueue...)
	g.Votes = append([]models.Vote(nil), g.Votes...)
	return g
}

func (d *memData) snapshot() *memData {
	cp := &memData{
		rooms:        make(map[uint]models.Room, len(d.rooms)),
		players:      make(map[uint]models.Player, len(d.players)),
		games:        make(map[uint]models.Game, len(d.games)),
		nextRoomID:   d.nextRoomID,
		nextPlayerID: d.nextPlayerID,
		nextGameID:   d.nextGameID,
	}
	for id, r := range d.rooms {
		cp.rooms[id] = r
	}
	for id, p := range d.players {
		cp.players[id] = p
	}
	for id, g := range d.games {
		cp.games[id] = copyGame(g)
	}
	return cp
}

func (s *Memory) CreateRoom(room *models.Room, host *models.Player) error {
	s.lock()
	defer s.unlock()

	now := time.Now()
	room.ID = s.data.nextRoomID
	s.data.nextRoomID++
	room.CreatedAt = now
	room.UpdatedAt = now
	s.data.rooms[room.ID] = *room

	host.ID = s.data.nextPlayerID
	s.data.nextPlayerID++
	host.RoomID = room.ID
	host.IsHost = true
	host.CreatedAt = now
	host.UpdatedAt = now
	s.data.players[host.ID] = *host
	return nil
}

func (s *Memory) GetRoomByCode(code string) (*models.Room, error) {
	s.lock()
	defer s.unlock()

	for _, r := range s.data.rooms {
		if r.Code == code && r.Active {
			room := r
			return &room, nil
		}
	}
	return nil, apperr.NotFound("room with code %s not found", code)
}

func (s *Memory) GetRoomByID(id uint) (*models.Room, error) {
	s.lock()
	defer s.unlock()

	r, ok := s.data.rooms[id]
	if !ok {
		return nil, apperr.NotFound("room %d not found", id)
	}
	room := r
	return &room, nil
}

func (s *Memory) ListPublicActiveRooms() ([]models.Room, error) {
	s.lock()
	defer s.unlock()

	var rooms []models.Room
	for _, r := range s.data.rooms {
		if r.Visibility == models.VisibilityPublic && r.Active {
			rooms = append(rooms, r)
		}
	}
	sort.Slice(rooms, func(i, j int) bool {
		return rooms[i].CreatedAt.After(rooms[j].CreatedAt)
	})
	return rooms, nil
}

func (s *Memory) ListActiveRooms() ([]models.Room, error) {
	s.lock()
	defer s.unlock()

	var rooms []models.Room
	for _, r := range s.data.rooms {
		if r.Active {
			rooms = append(rooms, r)
		}
	}
	sort.Slice(rooms, func(i, j int) bool { return rooms[i].ID < rooms[j].ID })
	return rooms, nil
}

func (s *Memory) UpdateRoom(room *models.Room) error {
	s.lock()
	defer s.unlock()

	if _, ok := s.data.rooms[room.ID]; !ok {
		return apperr.NotFound("room %d not found", room.ID)
	}
	room.UpdatedAt = time.Now()
	s.data.rooms[room.ID] = *room
	return nil
}

func (s *Memory) DeleteRoom(id uint) error {
	s.lock()
	defer s.unlock()

	delete(s.data.rooms, id)
	for pid, p := range s.data.players {
		if p.RoomID == id {
			delete(s.data.players, pid)
		}
	}
	for gid, g := range s.data.games {
		if g.RoomID == id {
			delete(s.data.games, gid)
		}
	}
	return nil
}

func (s *Memory) CreatePlayer(player *models.Player) error {
	s.lock()
	defer s.unlock()

	for _, p := range s.data.players {
		if p.UserID == player.UserID && p.RoomID == player.RoomID {
			return apperr.Conflict("user %d already has a player in room %d", player.UserID, player.RoomID)
		}
	}

	now := time.Now()
	player.ID = s.data.nextPlayerID
	s.data.nextPlayerID++
	player.CreatedAt = now
	player.UpdatedAt = now
	s.data.players[player.ID] = *player
	return nil
}

func (s *Memory) GetPlayer(id uint) (*models.Player, error) {
	s.lock()
	defer s.unlock()

	p, ok := s.data.players[id]
	if !ok {
		return nil, apperr.NotFound("player %d not found", id)
	}
	player := p
	return &player, nil
}

func (s *Memory) GetPlayerByUserAndRoom(userID, roomID uint) (*models.Player, error) {
	s.lock()
	defer s.unlock()

	for _, p := range s.data.players {
		if p.UserID == userID && p.RoomID == roomID {
			player := p
			return &player, nil
		}
	}
	return nil, apperr.NotFound("user %d has no player in room %d", userID, roomID)
}

func (s *Memory) listPlayers(roomID uint, onlineOnly bool) []models.Player {
	var players []models.Player
	for _, p := range s.data.players {
		if p.RoomID != roomID {
			continue
		}
		if onlineOnly && !p.IsOnline {
			continue
		}
		players = append(players, p)
	}
	sort.Slice(players, func(i, j int) bool {
		if players[i].JoinedAt.Equal(players[j].JoinedAt) {
			return players[i].ID < players[j].ID
		}
		return players[i].JoinedAt.Before(players[j].JoinedAt)
	})
	return players
}

func (s *Memory) ListPlayersInRoom(roomID uint) ([]models.Player, error) {
	s.lock()
	defer s.unlock()
	return s.listPlayers(roomID, false), nil
}

func (s *Memory) ListOnlinePlayersInRoom(roomID uint) ([]models.Player, error) {
	s.lock()
	defer s.unlock()
	return s.listPlayers(roomID, true), nil
}

func (s *Memory) UpdatePlayer(player *models.Player) error {
	s.lock()
	defer s.unlock()

	if _, ok := s.data.players[player.ID]; !ok {
		return apperr.NotFound("player %d not found", player.ID)
	}
	player.UpdatedAt = time.Now()
	s.data.players[player.ID] = *player
	return nil
}

func (s *Memory) DeletePlayer(id uint) error {
	s.lock()
	defer s.unlock()

	delete(s.data.players, id)
	return nil
}

func (s *Memory) TransferHost(oldPlayerID, newPlayerID uint) error {
	s.lock()
	defer s.unlock()

	next, ok := s.data.players[newPlayerID]
	if !ok {
		return apperr.Conflict("host transfer target %d no longer exists", newPlayerID)
	}
	if old, ok := s.data.players[oldPlayerID]; ok {
		old.IsHost = false
		s.data.players[oldPlayerID] = old
	}
	next.IsHost = true
	s.data.players[newPlayerID] = next
	return nil
}

func (s *Memory) CreateGame(game *models.Game) error {
	s.lock()
	defer s.unlock()

	now := time.Now()
	game.ID = s.data.nextGameID
	s.data.nextGameID++
	game.CreatedAt = now
	game.UpdatedAt = now
	s.data.games[game.ID] = copyGame(*game)
	return nil
}

func (s *Memory) GetGame(id uint) (*models.Game, error) {
	s.lock()
	defer s.unlock()

	g, ok := s.data.games[id]
	if !ok {
		return nil, apperr.NotFound("game %d not found", id)
	}
	game := copyGame(g)
	return &game, nil
}

func (s *Memory) GetActiveGameForRoom(roomID uint) (*models.Game, error) {
	s.lock()
	defer s.unlock()

	for _, g := range s.data.games {
		if g.RoomID == roomID && !g.Phase.Terminal() {
			game := copyGame(g)
			return &game, nil
		}
	}
	return nil, apperr.NotFound("room %d has no active game", roomID)
}

func (s *Memory) UpdateGame(game *models.Game) error {
	s.lock()
	defer s.unlock()

	if _, ok := s.data.games[game.ID]; !ok {
		return apperr.NotFound("game %d not found", game.ID)
	}
	game.UpdatedAt = time.Now()
	s.data.games[game.ID] = copyGame(*game)
	return nil
}

func (s *Memory) DeleteGame(id uint) error {
	s.lock()
	defer s.unlock()

	delete(s.data.games, id)
	return nil
}

func (s *Memory) DeleteCompletedGamesBefore(cutoff time.Time) error {
	s.lock()
	defer s.unlock()

	for id, g := range s.data.games {
		if g.Phase.Terminal() && g.UpdatedAt.Before(cutoff) {
			delete(s.data.games, id)
		}
	}
	return nil
}

// Tx holds the store lock for the duration of fn and restores the previous
// state if fn fails, mirroring the rollback behavior of the database store.
func (s *Memory) Tx(fn func(Store) error) error {
	if s.inTx {
		return fn(s)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	backup := s.data.snapshot()
	child := &Memory{data: s.data, inTx: true}
	if err := fn(child); err != nil {
		s.data.rooms = backup.rooms
		s.data.players = backup.players
		s.data.games = backup.games
		s.data.nextRoomID = backup.nextRoomID
		s.data.nextPlayerID = backup.nextPlayerID
		s.data.nextGameID = backup.nextGameID
		return err
	}
	return nil
}
