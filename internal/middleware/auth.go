package middleware

import (
	"quantumgrid-backend/internal/pkg/response"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

const userLocal = "user"

// Identity is the authenticated caller as seen by handlers.
type Identity struct {
	UserID        uuid.UUID
	Role          string
	Authenticated bool
}

// RequireAuth ensures a user with a valid id is in the session. Returns 401 with standard error format if not.
func RequireAuth() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if !CurrentIdentity(c).Authenticated {
			return response.Unauthorized(c, "Unauthorized")
		}
		c.Locals("auth", GetUser(c))
		return c.Next()
	}
}

// GetUser returns the session user from Locals (nil if not logged in).
func GetUser(c *fiber.Ctx) interface{} {
	return c.Locals(userLocal)
}

// CurrentIdentity reads the session user. A missing user or unparsable user_id yields an
// unauthenticated identity.
func CurrentIdentity(c *fiber.Ctx) Identity {
	m, ok := GetUser(c).(map[string]interface{})
	if !ok {
		return Identity{}
	}
	raw, _ := m["user_id"].(string)
	id, err := uuid.Parse(raw)
	if err != nil {
		return Identity{}
	}
	role, _ := m["role"].(string)
	return Identity{UserID: id, Role: role, Authenticated: true}
}
