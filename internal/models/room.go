package models

import "gorm.io/gorm"

// Visibility controls whether a room shows up in the public room list.
type Visibility string

const (
	VisibilityPublic  Visibility = "public"
	VisibilityPrivate Visibility = "private"
)

// Room represents a game room players gather in.
//
// Players and the active Game reference the room by id only; the room holds
// no back-pointers, so entities stay serializable and cycle-free.
type Room struct {
	gorm.Model
	Code       string     `gorm:"size:6;not null;index"`
	Name       string     `gorm:"size:255"`
	Visibility Visibility `gorm:"size:20;not null;default:'private'"`
	Capacity   int        `gorm:"not null;default:10"`
	Active     bool       `gorm:"not null;default:true;index"`
}
