package models

import "time"

// Role names carried by users and JWT claims.
const (
	RoleUser  = "user"
	RoleAdmin = "admin"
	RoleJudge = "judge"
)

// User is a platform account. Managed outside this service.
type User struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Username  string    `gorm:"size:64;uniqueIndex;not null" json:"username"`
	Email     string    `gorm:"size:255;uniqueIndex" json:"email"`
	Role      string    `gorm:"size:16;not null;default:user" json:"role"`
	CreatedAt time.Time `json:"created_at"`
}

// Exercise is a problem users submit solutions for.
type Exercise struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	Title       string    `gorm:"size:255;not null" json:"title"`
	Description string    `gorm:"type:text" json:"description"`
	CreatedAt   time.Time `json:"created_at"`
}

// Language is a supported programming language. Code identifies it to the judge.
type Language struct {
	ID   uint   `gorm:"primaryKey" json:"id"`
	Name string `gorm:"size:64;not null" json:"name"`
	Code int    `gorm:"not null" json:"code"`
}
