package models

import "gorm.io/gorm"

// User represents a registered account. A user may hold at most one Player
// row per room; the row is looked up by id, never embedded.
type User struct {
	gorm.Model
	Nickname     string `gorm:"size:255;unique;not null"`
	Email        string `gorm:"size:255;unique;not null"`
	PasswordHash string `gorm:"size:255;not null"`
}
