package models

import (
	"time"
)

type Role string

const (
	RolePatient  Role = "patient"
	RoleHospital Role = "hospital"
	RoleInsurer  Role = "insurer"
	RoleAdmin    Role = "admin"
)

var Roles = []Role{RolePatient, RoleHospital, RoleInsurer, RoleAdmin}

func ParseRole(s string) (Role, bool) {
	for _, r := range Roles {
		if string(r) == s {
			return r, true
		}
	}
	return "", false
}

type User struct {
	ID           uint       `gorm:"primaryKey;autoIncrement"       json:"id"`
	Email        string     `gorm:"uniqueIndex;not null"           json:"email"`
	Username     string     `gorm:"uniqueIndex;not null"           json:"username"`
	PasswordHash string     `gorm:"column:hashed_password;not null" json:"-"`
	FullName     string     `gorm:"not null"                       json:"full_name"`
	Role         Role       `gorm:"type:varchar(16);not null"      json:"role"`
	IsActive     bool       `gorm:"not null"                       json:"is_active"`
	IsVerified   bool       `gorm:"not null;default:false"         json:"is_verified"`
	LastLogin    *time.Time `json:"last_login"`
	CreatedAt    time.Time  `gorm:"not null"                       json:"created_at"`
}

// RefreshToken rows are only ever flipped to revoked; they are never
// reactivated or deleted here.
type RefreshToken struct {
	ID        uint      `gorm:"primaryKey"                 json:"id"`
	Token     string    `gorm:"uniqueIndex;not null"       json:"-"`
	UserID    uint      `gorm:"index;not null"             json:"user_id"`
	ExpiresAt time.Time `gorm:"not null"                   json:"expires_at"`
	Revoked   bool      `gorm:"not null;default:false"     json:"revoked"`
	CreatedAt time.Time `gorm:"not null"                   json:"created_at"`
}

func (t RefreshToken) Active(now time.Time) bool {
	return !t.Revoked && t.ExpiresAt.After(now)
}

type PasswordResetToken struct {
	ID        uint      `gorm:"primaryKey"                 json:"id"`
	Token     string    `gorm:"uniqueIndex;not null"       json:"-"`
	UserID    uint      `gorm:"index;not null"             json:"user_id"`
	ExpiresAt time.Time `gorm:"not null"                   json:"expires_at"`
	Used      bool      `gorm:"not null;default:false"     json:"used"`
	CreatedAt time.Time `gorm:"not null"                   json:"created_at"`
}
