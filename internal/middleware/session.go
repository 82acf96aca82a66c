package middleware

import (
	"encoding/json"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// Sessions are issued by the auth service; this backend only reads them.
const (
	SessionCookieName  = "qg.sid"
	SessionRedisPrefix = "session:"
	sessionDataLocal   = "session_data"
	sessionIDLocal     = "session_id"
)

// SessionUser is the shape stored in the session under "user".
type SessionUser struct {
	UserID   string `json:"user_id"`
	Fullname string `json:"fullname"`
	Email    string `json:"email"`
	Role     string `json:"role"`
}

// SessionKey is the Redis key holding the session with the given id.
func SessionKey(sessionID string) string {
	return SessionRedisPrefix + sessionID
}

// Session returns a Fiber middleware that loads the session from Redis and exposes the
// session user under Locals("user"). Signed cookies ("s:id.signature") use the id part.
func Session(rdb *redis.Client) fiber.Handler {
	return func(c *fiber.Ctx) error {
		sessionID := c.Cookies(SessionCookieName)
		if strings.HasPrefix(sessionID, "s:") {
			sessionID = strings.SplitN(sessionID[2:], ".", 2)[0]
		}

		var data map[string]interface{}
		if sessionID != "" && rdb != nil {
			b, err := rdb.Get(c.UserContext(), SessionKey(sessionID)).Bytes()
			switch {
			case err == nil:
				if err := json.Unmarshal(b, &data); err != nil {
					log.Warn().Err(err).Str("trace_id", GetTraceID(c)).Msg("Malformed session payload")
				}
			case err != redis.Nil:
				log.Error().Err(err).Str("trace_id", GetTraceID(c)).Msg("Session lookup failed")
			}
		}
		if data == nil {
			data = make(map[string]interface{})
		}

		c.Locals(sessionDataLocal, data)
		c.Locals(sessionIDLocal, sessionID)
		if u, ok := data["user"].(map[string]interface{}); ok {
			c.Locals(userLocal, u)
		} else {
			c.Locals(userLocal, nil)
		}
		return c.Next()
	}
}

// GetSessionID returns the current session ID from context.
func GetSessionID(c *fiber.Ctx) string {
	sid, _ := c.Locals(sessionIDLocal).(string)
	return sid
}
