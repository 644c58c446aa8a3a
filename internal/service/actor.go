package service

import "github.com/noah-isme/coder-judge-api/internal/models"

// Actor is the authenticated caller as resolved from the access token.
type Actor struct {
	ID   uint
	Role string
}

// IsAdmin reports whether the caller holds the admin role.
func (a Actor) IsAdmin() bool {
	return a.Role == models.RoleAdmin
}

// Owns reports whether the caller is the given user.
func (a Actor) Owns(userID uint) bool {
	return a.ID != 0 && a.ID == userID
}

// CanReportResults reports whether the caller may write judge outcomes.
func (a Actor) CanReportResults() bool {
	return a.Role == models.RoleAdmin || a.Role == models.RoleJudge
}
