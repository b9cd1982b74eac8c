// Package models contains the persisted shapes of the messaging core.
package models

import (
	"time"

	"gorm.io/gorm"
)

// User is the directory record the messaging core reads display fields from.
type User struct {
	ID         uint           `gorm:"primaryKey" json:"id"`
	Username   string         `gorm:"uniqueIndex;not null" json:"username"`
	Email      string         `gorm:"uniqueIndex;not null" json:"email"`
	Password   string         `gorm:"not null" json:"-"`
	Bio        string         `json:"bio"`
	Avatar     string         `json:"avatar"`
	IsVerified bool           `gorm:"default:false" json:"is_verified"`
	IsAdmin    bool           `gorm:"default:false" json:"is_admin"`
	IsBot      bool           `gorm:"default:false" json:"is_bot"`
	CreatedAt  time.Time      `json:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at"`
	DeletedAt  gorm.DeletedAt `gorm:"index" json:"-"`
}

// UserSummary is the compact author shape embedded in realtime payloads.
type UserSummary struct {
	ID         uint   `json:"id"`
	Username   string `json:"username"`
	Avatar     string `json:"avatar"`
	IsVerified bool   `json:"is_verified"`
}

// Summary returns the public display fields of the user.
func (u *User) Summary() UserSummary {
	return UserSummary{
		ID:         u.ID,
		Username:   u.Username,
		Avatar:     u.Avatar,
		IsVerified: u.IsVerified,
	}
}
