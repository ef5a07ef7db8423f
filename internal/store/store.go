package store

import (
	"time"

	"wordimposter/backend/internal/models"
)

// Store is the persistence adapter consumed by the room lifecycle manager
// and the game state machine. All cross-entity references are ids; callers
// resolve them through these lookups rather than holding live pointers.
//
// Implementations: Gorm (postgres) for production, Memory for tests and
// database-less development.
type Store interface {
	// CreateRoom persists the room and its host player atomically.
	CreateRoom(room *models.Room, host *models.Player) error
	GetRoomByCode(code string) (*models.Room, error)
	GetRoomByID(id uint) (*models.Room, error)
	ListPublicActiveRooms() ([]models.Room, error)
	// ListActiveRooms returns every active room; used by the reap loop.
	ListActiveRooms() ([]models.Room, error)
	UpdateRoom(room *models.Room) error
	// DeleteRoom removes the room and cascades to its players and games.
	DeleteRoom(id uint) error

	CreatePlayer(player *models.Player) error
	GetPlayer(id uint) (*models.Player, error)
	GetPlayerByUserAndRoom(userID, roomID uint) (*models.Player, error)
	// ListPlayersInRoom returns players ordered by JoinedAt ascending.
	ListPlayersInRoom(roomID uint) ([]models.Player, error)
	ListOnlinePlayersInRoom(roomID uint) ([]models.Player, error)
	UpdatePlayer(player *models.Player) error
	DeletePlayer(id uint) error
	// TransferHost demotes the old host and promotes the new one as a
	// single transactional step. oldPlayerID may be zero when no previous
	// host row survives.
	TransferHost(oldPlayerID, newPlayerID uint) error

	CreateGame(game *models.Game) error
	GetGame(id uint) (*models.Game, error)
	GetActiveGameForRoom(roomID uint) (*models.Game, error)
	UpdateGame(game *models.Game) error
	DeleteGame(id uint) error
	// DeleteCompletedGamesBefore archives out finished games past the
	// retention window.
	DeleteCompletedGamesBefore(cutoff time.Time) error

	// Tx runs fn against a transaction-scoped Store. If fn returns an
	// error, none of its writes are durably applied.
	Tx(fn func(Store) error) error
}
