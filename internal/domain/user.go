package domain

import "time"

// User is the login principal. Credentials are checked at the HTTP edge; the
// token engine only ever sees (ID, Role) and the access-token subject (Email).
type User struct {
	ID           int64     `json:"id" gorm:"primaryKey"`
	Email        string    `json:"email" gorm:"size:255;uniqueIndex;not null"`
	PasswordHash string    `json:"-" gorm:"not null"`
	Role         Role      `json:"role" gorm:"size:20;not null"`
	Name         string    `json:"name"`
	Active       bool      `json:"active" gorm:"not null"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

func (User) TableName() string { return "users" }

// Identity is the result of a successful credential check.
type Identity struct {
	Subject string
	UserID  int64
	Role    Role
}

func (u *User) Identity() Identity {
	return Identity{Subject: u.Email, UserID: u.ID, Role: u.Role}
}
