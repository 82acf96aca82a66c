package ticker

import (
	"context"
	"encoding/json"
	"sort"
	"strconv"
	"time"

	"quantumgrid-backend/internal/domain"
	"quantumgrid-backend/internal/infrastructure/metrics"

	"github.com/redis/go-redis/v9"
)

// Redis hashes keyed by source type: the newest tick, and its timestamp in microseconds.
const (
	KeyLatest   = "ticker:latest"
	KeyLatestAt = "ticker:latest_at"
)

// recordScript stores the tick unless the cached one is newer. Running it as one script keeps
// concurrent consumers of the same source type from replacing a newer tick with an older one.
var recordScript = redis.NewScript(`
local prev = redis.call('HGET', KEYS[2], ARGV[1])
if prev and tonumber(prev) > tonumber(ARGV[2]) then
	return 0
end
redis.call('HSET', KEYS[1], ARGV[1], ARGV[3])
redis.call('HSET', KEYS[2], ARGV[1], ARGV[2])
return 1
`)

// Service caches the external price feed. It is informational only; matching never reads it.
type Service struct {
	Rdb     *redis.Client
	Metrics *metrics.Metrics
}

// Record stores tick unless a newer one for the same source type is already cached.
func (s *Service) Record(ctx context.Context, tick domain.PriceTick) error {
	if tick.Type == "" {
		return domain.NewValidationError("type", "is required")
	}
	field := string(tick.Type)
	b, err := json.Marshal(tick)
	if err != nil {
		return err
	}
	stored, err := recordScript.Run(ctx, s.Rdb, []string{KeyLatest, KeyLatestAt},
		field, strconv.FormatInt(tick.Timestamp.UnixMicro(), 10), b).Int()
	if err != nil {
		return err
	}
	if stored == 1 {
		s.Metrics.PriceTick(field)
	}
	return nil
}

// Latest returns the cached ticks ordered by source type.
func (s *Service) Latest(ctx context.Context) ([]domain.PriceTick, error) {
	raw, err := s.Rdb.HGetAll(ctx, KeyLatest).Result()
	if err != nil {
		return nil, err
	}
	ticks := make([]domain.PriceTick, 0, len(raw))
	for _, v := range raw {
		var t domain.PriceTick
		if err := json.Unmarshal([]byte(v), &t); err != nil {
			continue
		}
		ticks = append(ticks, t)
	}
	sort.Slice(ticks, func(i, j int) bool { return ticks[i].Type < ticks[j].Type })
	return ticks, nil
}

// Age reports how old the newest cached tick is; ok is false when nothing is cached.
func (s *Service) Age(ctx context.Context, now time.Time) (time.Duration, bool, error) {
	ticks, err := s.Latest(ctx)
	if err != nil || len(ticks) == 0 {
		return 0, false, err
	}
	newest := ticks[0].Timestamp
	for _, t := range ticks[1:] {
		if t.Timestamp.After(newest) {
			newest = t.Timestamp
		}
	}
	return now.Sub(newest), true, nil
}
