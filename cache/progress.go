package cache

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"StemForge/logger"

	"github.com/go-redis/redis/v8"
)

// Split counter fields. Render and mix outcomes use RenderField and MixField.
const (
	FieldAccepted = "split_accepted"
	FieldRejected = "split_rejected"
)

// RenderField is the counter of one render outcome.
func RenderField(outcome string) string {
	return "render_" + outcome
}

// MixField is the counter of one mix outcome.
func MixField(outcome string) string {
	return "mix_" + outcome
}

const progressTTL = 7 * 24 * time.Hour

// ProgressRecorder keeps per-run counters in a Redis hash. A nil recorder drops
// every update, so callers need not check whether Redis is configured.
type ProgressRecorder struct {
	client *redis.Client
	key    string
}

// ProgressKey is the hash holding the counters of runID.
func ProgressKey(runID string) string {
	return keyPrefix + "progress:" + runID
}

// NewProgressRecorder 创建运行进度记录器
func NewProgressRecorder(client *redis.Client, runID string) *ProgressRecorder {
	return &ProgressRecorder{client: client, key: ProgressKey(runID)}
}

// Key returns the Redis key of the counters.
func (p *ProgressRecorder) Key() string {
	if p == nil {
		return ""
	}
	return p.key
}

// Incr adds n to field. Failures are logged; progress is advisory.
func (p *ProgressRecorder) Incr(ctx context.Context, field string, n int64) {
	if p == nil || n == 0 {
		return
	}
	pipe := p.client.TxPipeline()
	pipe.HIncrBy(ctx, p.key, field, n)
	pipe.Expire(ctx, p.key, progressTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		logger.Warn("Failed to record progress",
			logger.String("key", p.key),
			logger.String("field", field),
			logger.ErrorField(err))
	}
}

// Snapshot returns the current counters.
func (p *ProgressRecorder) Snapshot(ctx context.Context) (map[string]int64, error) {
	if p == nil {
		return map[string]int64{}, nil
	}
	raw, err := p.client.HGetAll(ctx, p.key).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read progress %s: %w", p.key, err)
	}
	return parseCounters(raw)
}

func parseCounters(raw map[string]string) (map[string]int64, error) {
	out := make(map[string]int64, len(raw))
	for field, v := range raw {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("progress field %s: %w", field, err)
		}
		out[field] = n
	}
	return out, nil
}
