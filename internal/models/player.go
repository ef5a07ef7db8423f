package models

import (
	"time"

	"gorm.io/gorm"
)

// Player represents a user's membership in a single room.
//
// At most one row exists per (UserID, RoomID); rejoining a room reuses the
// existing row and flips it back online. Among the online players of a
// non-empty room exactly one has IsHost set.
type Player struct {
	gorm.Model
	UserID   uint      `gorm:"not null;uniqueIndex:idx_user_room"`
	RoomID   uint      `gorm:"not null;uniqueIndex:idx_user_room;index"`
	IsHost   bool      `gorm:"not null;default:false"`
	IsOnline bool      `gorm:"not null;default:true"`
	JoinedAt time.Time `gorm:"not null"`
	LastSeen time.Time `gorm:"not null"`
}
