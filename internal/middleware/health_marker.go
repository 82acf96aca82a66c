package middleware

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	healthsvc "quantumgrid-backend/internal/application/health"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
)

// HealthMarker records request stats in Redis (skips /health*, /metrics, /reset, favicon).
// Responses with status >= 500 are counted as errors and pushed onto the error log.
func HealthMarker(rdb *redis.Client) fiber.Handler {
	return func(c *fiber.Ctx) error {
		path := c.Path()
		if rdb == nil || strings.HasPrefix(path, "/health") || path == "/metrics" || path == "/reset" || strings.HasPrefix(path, "/favicon") {
			return c.Next()
		}

		start := time.Now()
		lastReq := map[string]interface{}{
			"time":   start,
			"ip":     c.IP(),
			"path":   c.OriginalURL(),
			"method": c.Method(),
		}
		b, _ := json.Marshal(lastReq)
		ctx := context.Background()
		_, _ = rdb.Set(ctx, healthsvc.KeyLastReq, b, 0).Result()
		_, _ = rdb.Incr(ctx, healthsvc.KeyReqTotal).Result()

		err := c.Next()
		if err != nil {
			// Render the envelope now so the status code below is final.
			if herr := c.App().ErrorHandler(c, err); herr != nil {
				return herr
			}
			err = nil
		}

		ms := time.Since(start).Milliseconds()
		_, _ = rdb.Incr(ctx, healthsvc.KeyResCount).Result()
		_, _ = rdb.IncrByFloat(ctx, healthsvc.KeyResTime, float64(ms)).Result()
		if status := c.Response().StatusCode(); status >= fiber.StatusInternalServerError {
			_, _ = rdb.Incr(ctx, healthsvc.KeyReqErrors).Result()
			_ = healthsvc.LogError(ctx, rdb, healthsvc.ErrorEntry{
				Time:    start,
				Method:  c.Method(),
				Path:    c.OriginalURL(),
				Status:  status,
				TraceID: GetTraceID(c),
			})
		}
		return err
	}
}
