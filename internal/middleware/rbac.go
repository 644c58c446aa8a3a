package middleware

import (
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/noah-isme/coder-judge-api/internal/utils"
)

// RequireRole ensures that the authenticated user possesses one of the allowed roles.
// It must run after JWTProtected.
func RequireRole(roles ...string) fiber.Handler {
	allowed := make(map[string]struct{}, len(roles))
	for _, role := range roles {
		normalized := strings.ToLower(strings.TrimSpace(role))
		if normalized != "" {
			allowed[normalized] = struct{}{}
		}
	}

	return func(c *fiber.Ctx) error {
		if UserID(c) == 0 {
			return utils.SendError(c, fiber.StatusUnauthorized, "authentication required")
		}
		if _, ok := allowed[UserRole(c)]; !ok {
			return utils.SendError(c, fiber.StatusForbidden, "insufficient permissions")
		}
		return c.Next()
	}
}

// UserID returns the authenticated user id, or zero.
func UserID(c *fiber.Ctx) uint {
	switch v := c.Locals(LocalUserID).(type) {
	case uint:
		return v
	case int:
		if v > 0 {
			return uint(v)
		}
	}
	return 0
}

// UserRole returns the normalised role of the caller, or "".
func UserRole(c *fiber.Ctx) string {
	if role, ok := c.Locals(LocalUserRole).(string); ok {
		return strings.ToLower(strings.TrimSpace(role))
	}
	return ""
}
