package store

import (
	"errors"
	"time"

	"gorm.io/gorm"

	"wordimposter/backend/internal/apperr"
	"wordimposter/backend/internal/models"
)

// Gorm is the database-backed Store implementation.
type Gorm struct {
	db *gorm.DB
}

// NewGorm wraps an open gorm connection.
func NewGorm(db *gorm.DB) *Gorm {
	return &Gorm{db: db}
}

func (s *Gorm) CreateRoom(room *models.Room, host *models.Player) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(room).Error; err != nil {
			return apperr.Internal(err)
		}
		host.RoomID = room.ID
		host.IsHost = true
		if err := tx.Create(host).Error; err != nil {
			return apperr.Internal(err)
		}
		return nil
	})
}

func (s *Gorm) GetRoomByCode(code string) (*models.Room, error) {
	var room models.Room
	err := s.db.Where("code = ? AND active = ?", code, true).First(&room).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.NotFound("room with code %s not found", code)
	}
	if err != nil {
		return nil, apperr.Internal(err)
	}
	return &room, nil
}

func (s *Gorm) GetRoomByID(id uint) (*models.Room, error) {
	var room models.Room
	err := s.db.First(&room, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.NotFound("room %d not found", id)
	}
	if err != nil {
		return nil, apperr.Internal(err)
	}
	return &room, nil
}

func (s *Gorm) ListPublicActiveRooms() ([]models.Room, error) {
	var rooms []models.Room
	err := s.db.
		Where("visibility = ? AND active = ?", models.VisibilityPublic, true).
		Order("created_at DESC").
		Find(&rooms).Error
	if err != nil {
		return nil, apperr.Internal(err)
	}
	return rooms, nil
}

func (s *Gorm) ListActiveRooms() ([]models.Room, error) {
	var rooms []models.Room
	if err := s.db.Where("active = ?", true).Find(&rooms).Error; err != nil {
		return nil, apperr.Internal(err)
	}
	return rooms, nil
}

func (s *Gorm) UpdateRoom(room *models.Room) error {
	if err := s.db.Save(room).Error; err != nil {
		return apperr.Internal(err)
	}
	return nil
}

func (s *Gorm) DeleteRoom(id uint) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("room_id = ?", id).Delete(&models.Player{}).Error; err != nil {
			return apperr.Internal(err)
		}
		if err := tx.Where("room_id = ?", id).Delete(&models.Game{}).Error; err != nil {
			return apperr.Internal(err)
		}
		if err := tx.Delete(&models.Room{}, id).Error; err != nil {
			return apperr.Internal(err)
		}
		return nil
	})
}

func (s *Gorm) CreatePlayer(player *models.Player) error {
	if err := s.db.Create(player).Error; err != nil {
		return apperr.Internal(err)
	}
	return nil
}

func (s *Gorm) GetPlayer(id uint) (*models.Player, error) {
	var player models.Player
	err := s.db.First(&player, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.NotFound("player %d not found", id)
	}
	if err != nil {
		return nil, apperr.Internal(err)
	}
	return &player, nil
}

func (s *Gorm) GetPlayerByUserAndRoom(userID, roomID uint) (*models.Player, error) {
	var player models.Player
	err := s.db.Where("user_id = ? AND room_id = ?", userID, roomID).First(&player).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.NotFound("user %d has no player in room %d", userID, roomID)
	}
	if err != nil {
		return nil, apperr.Internal(err)
	}
	return &player, nil
}

func (s *Gorm) ListPlayersInRoom(roomID uint) ([]models.Player, error) {
	var players []models.Player
	err := s.db.Where("room_id = ?", roomID).Order("joined_at ASC").Find(&players).Error
	if err != nil {
		return nil, apperr.Internal(err)
	}
	return players, nil
}

func (s *Gorm) ListOnlinePlayersInRoom(roomID uint) ([]models.Player, error) {
	var players []models.Player
	err := s.db.
		Where("room_id = ? AND is_online = ?", roomID, true).
		Order("joined_at ASC").
		Find(&players).Error
	if err != nil {
		return nil, apperr.Internal(err)
	}
	return players, nil
}

func (s *Gorm) UpdatePlayer(player *models.Player) error {
	if err := s.db.Save(player).Error; err != nil {
		return apperr.Internal(err)
	}
	return nil
}

func (s *Gorm) DeletePlayer(id uint) error {
	if err := s.db.Delete(&models.Player{}, id).Error; err != nil {
		return apperr.Internal(err)
	}
	return nil
}

func (s *Gorm) TransferHost(oldPlayerID, newPlayerID uint) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		if oldPlayerID != 0 {
			err := tx.Model(&models.Player{}).
				Where("id = ?", oldPlayerID).
				Update("is_host", false).Error
			if err != nil {
				return apperr.Internal(err)
			}
		}
		res := tx.Model(&models.Player{}).
			Where("id = ?", newPlayerID).
			Update("is_host", true)
		if res.Error != nil {
			return apperr.Internal(res.Error)
		}
		if res.RowsAffected == 0 {
			return apperr.Conflict("host transfer target %d no longer exists", newPlayerID)
		}
		return nil
	})
}

func (s *Gorm) CreateGame(game *models.Game) error {
	if err := s.db.Create(game).Error; err != nil {
		return apperr.Internal(err)
	}
	return nil
}

func (s *Gorm) GetGame(id uint) (*models.Game, error) {
	var game models.Game
	err := s.db.First(&game, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.NotFound("game %d not found", id)
	}
	if err != nil {
		return nil, apperr.Internal(err)
	}
	return &game, nil
}

func (s *Gorm) GetActiveGameForRoom(roomID uint) (*models.Game, error) {
	var game models.Game
	err := s.db.
		Where("room_id = ? AND phase <> ?", roomID, models.PhaseCompleted).
		First(&game).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.NotFound("room %d has no active game", roomID)
	}
	if err != nil {
		return nil, apperr.Internal(err)
	}
	return &game, nil
}

func (s *Gorm) UpdateGame(game *models.Game) error {
	if err := s.db.Save(game).Error; err != nil {
		return apperr.Internal(err)
	}
	return nil
}

func (s *Gorm) DeleteGame(id uint) error {
	if err := s.db.Delete(&models.Game{}, id).Error; err != nil {
		return apperr.Internal(err)
	}
	return nil
}

func (s *Gorm) DeleteCompletedGamesBefore(cutoff time.Time) error {
	err := s.db.
		Where("phase = ? AND updated_at < ?", models.PhaseCompleted, cutoff).
		Delete(&models.Game{}).Error
	if err != nil {
		return apperr.Internal(err)
	}
	return nil
}

func (s *Gorm) Tx(fn func(Store) error) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		return fn(&Gorm{db: tx})
	})
}
