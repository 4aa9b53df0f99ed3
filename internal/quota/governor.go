// Package quota enforces a daily request budget for paid upstream services.
//
// Usage is counted per bucket in a shared store so every worker process sees
// the same totals. A bucket is one "quota day" in the configured time zone,
// starting at the configured reset time. When the store cannot be reached the
// governor fails open: work continues and the outage is logged.
package quota

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"casiel/internal/logging"
)

// KeyTTL is applied to a bucket counter when it is first created.
const KeyTTL = 25 * time.Hour

// Config describes one governed service.
type Config struct {
	Service   string
	Limit     int64
	Timezone  string
	ResetTime string
}

// Usage reports the counter of the current bucket.
type Usage struct {
	Key   string
	Count int64
	Limit int64
}

// Remaining returns how many calls are left, or -1 when unlimited.
func (u Usage) Remaining() int64 {
	if u.Limit <= 0 {
		return -1
	}
	if u.Count >= u.Limit {
		return 0
	}
	return u.Limit - u.Count
}

// Governor gates calls against the daily limit.
type Governor struct {
	store     Store
	service   string
	limit     int64
	location  *time.Location
	resetHour int
	resetMin  int
	now       func() time.Time
	logger    *slog.Logger
}

// Option customizes a Governor.
type Option func(*Governor)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(g *Governor) {
		if now != nil {
			g.now = now
		}
	}
}

// New builds a governor. The time zone and reset time are validated here.
func New(store Store, cfg Config, logger *slog.Logger, opts ...Option) (*Governor, error) {
	service := strings.TrimSpace(cfg.Service)
	if service == "" {
		return nil, errors.New("quota: service name is required")
	}
	tz := strings.TrimSpace(cfg.Timezone)
	if tz == "" {
		tz = "UTC"
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("quota: load timezone %q: %w", tz, err)
	}
	hour, minute, err := ParseResetTime(cfg.ResetTime)
	if err != nil {
		return nil, err
	}
	g := &Governor{
		store:     store,
		service:   service,
		limit:     cfg.Limit,
		location:  loc,
		resetHour: hour,
		resetMin:  minute,
		now:       time.Now,
		logger:    logging.NewComponentLogger(logger, "quota").With(logging.String("service", service)),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(g)
		}
	}
	return g, nil
}

// ParseResetTime parses an "HH:MM" wall-clock time. Blank means midnight.
func ParseResetTime(value string) (int, int, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, 0, nil
	}
	parsed, err := time.Parse("15:04", value)
	if err != nil {
		return 0, 0, fmt.Errorf("quota: reset time %q must be HH:MM: %w", value, err)
	}
	return parsed.Hour(), parsed.Minute(), nil
}

// BucketKey returns the counter key for the quota day containing now. Before
// the reset time the previous calendar day is still current.
func (g *Governor) BucketKey(now time.Time) string {
	local := now.In(g.location)
	reset := time.Date(local.Year(), local.Month(), local.Day(), g.resetHour, g.resetMin, 0, 0, g.location)
	day := local
	if local.Before(reset) {
		day = local.AddDate(0, 0, -1)
	}
	return fmt.Sprintf("quota:%s:%s", g.service, day.Format("2006-01-02"))
}

// Allowed reports whether another call fits in the current bucket. A limit of
// zero or less disables the check. Store failures allow the call.
func (g *Governor) Allowed(ctx context.Context) bool {
	if g.limit <= 0 {
		return true
	}
	key := g.BucketKey(g.now())
	count, err := g.store.Get(ctx, key)
	if err != nil {
		g.warnFailOpen("quota check failed; allowing request", key, err)
		return true
	}
	if count >= g.limit {
		g.logger.Warn("daily quota exhausted",
			logging.String("key", key),
			logging.Int64("count", count),
			logging.Int64("limit", g.limit),
			logging.String(logging.FieldEventType, "quota_exhausted"),
		)
		return false
	}
	return true
}

// RecordUsage counts one call. The first increment of a bucket sets its
// expiry. Store failures are logged and otherwise ignored.
func (g *Governor) RecordUsage(ctx context.Context) {
	key := g.BucketKey(g.now())
	count, err := g.store.Incr(ctx, key)
	if err != nil {
		g.warnFailOpen("quota increment failed; usage not recorded", key, err)
		return
	}
	if count == 1 {
		if err := g.store.Expire(ctx, key, KeyTTL); err != nil {
			g.warnFailOpen("quota expiry failed; key may persist", key, err)
		}
	}
	g.logger.Debug("quota usage recorded", logging.String("key", key), logging.Int64("count", count))
}

// Usage reads the counter of the current bucket.
func (g *Governor) Usage(ctx context.Context) (Usage, error) {
	key := g.BucketKey(g.now())
	count, err := g.store.Get(ctx, key)
	if err != nil {
		return Usage{Key: key, Limit: g.limit}, fmt.Errorf("quota: read %s: %w", key, err)
	}
	return Usage{Key: key, Count: count, Limit: g.limit}, nil
}

func (g *Governor) warnFailOpen(msg, key string, err error) {
	logging.WarnWithContext(g.logger, msg, "quota_fail_open",
		logging.String("key", key),
		logging.Error(err),
		logging.String(logging.FieldErrorHint, "check redis connectivity"),
		logging.String(logging.FieldImpact, "quota is not enforced while the store is unavailable"),
	)
}
