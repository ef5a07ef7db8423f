package room

import (
	"time"

	"wordimposter/backend/internal/models"
)

// PlayerInfo is the player shape broadcast to clients.
type PlayerInfo struct {
	ID       uint      `json:"id"`
	UserID   uint      `json:"user_id"`
	IsHost   bool      `json:"is_host"`
	IsOnline bool      `json:"is_online"`
	JoinedAt time.Time `json:"joined_at"`
}

// State is the full room snapshot broadcast on room_updated.
type State struct {
	ID         uint              `json:"id"`
	Code       string            `json:"code"`
	Name       string            `json:"name"`
	Visibility models.Visibility `json:"visibility"`
	Capacity   int               `json:"capacity"`
	Players    []PlayerInfo      `json:"players"`
}

func playerInfo(p *models.Player) PlayerInfo {
	return PlayerInfo{
		ID:       p.ID,
		UserID:   p.UserID,
		IsHost:   p.IsHost,
		IsOnline: p.IsOnline,
		JoinedAt: p.JoinedAt,
	}
}

// State builds the broadcastable snapshot of a room. It reads under the
// same serialized step that produced the latest mutation when called from
// inside WithRoom.
func (m *Manager) State(roomID uint) (*State, error) {
	room, err := m.store.GetRoomByID(roomID)
	if err != nil {
		return nil, err
	}
	players, err := m.store.ListPlayersInRoom(roomID)
	if err != nil {
		return nil, err
	}

	infos := make([]PlayerInfo, 0, len(players))
	for i := range players {
		infos = append(infos, playerInfo(&players[i]))
	}

	return &State{
		ID:         room.ID,
		Code:       room.Code,
		Name:       room.Name,
		Visibility: room.Visibility,
		Capacity:   room.Capacity,
		Players:    infos,
	}, nil
}
