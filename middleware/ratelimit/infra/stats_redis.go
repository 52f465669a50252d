package infra

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"paygate-gateway/middleware/ratelimit/domain"
)

const (
	fieldAllowed = "allowed"
	fieldDenied  = "denied"
)

// RedisStatsStore agrega decisões em hashes do Redis, compartilhadas entre instâncias.
//
// Layout (prefix padrão "ratelimit:stats"):
//
//	<prefix>:total                  allowed / denied (cumulativo, não expira)
//	<prefix>:minute:<yyyymmddhhmm>  allowed / denied por minuto (expira em ttl)
//	<prefix>:bucket                 "<bucket>:allowed" / "<bucket>:denied"
//	<prefix>:backend                "<backend>:allowed" / "<backend>:denied"
//	<prefix>:key:<identity>         allowed / denied (só com WithStatsTrackKeys)
type RedisStatsStore struct {
	rdb     redis.UniversalClient
	prefix  string
	ttl     time.Duration // só séries temporais e chaves por identidade
	timeout time.Duration

	perMinute bool
	trackKeys bool
}

var (
	_ domain.StatsStore  = (*RedisStatsStore)(nil)
	_ domain.StatsReader = (*RedisStatsStore)(nil)
)

type RedisStatsOption func(*RedisStatsStore)

func WithStatsPrefix(prefix string) RedisStatsOption {
	return func(s *RedisStatsStore) { s.prefix = strings.Trim(prefix, ":") }
}

func WithStatsTTL(d time.Duration) RedisStatsOption {
	return func(s *RedisStatsStore) { s.ttl = d }
}

// WithStatsBucket escolhe a granularidade da série temporal: "minute" ou "none".
func WithStatsBucket(granularity string) RedisStatsOption {
	return func(s *RedisStatsStore) {
		s.perMinute = strings.EqualFold(strings.TrimSpace(granularity), "minute")
	}
}

func WithStatsTrackKeys(track bool) RedisStatsOption {
	return func(s *RedisStatsStore) { s.trackKeys = track }
}

// WithStatsTimeout limita cada Record; stats nunca podem segurar a requisição.
func WithStatsTimeout(d time.Duration) RedisStatsOption {
	return func(s *RedisStatsStore) {
		if d > 0 {
			s.timeout = d
		}
	}
}

func NewRedisStatsStore(rdb redis.UniversalClient, opts ...RedisStatsOption) *RedisStatsStore {
	s := &RedisStatsStore{
		rdb:       rdb,
		prefix:    "ratelimit:stats",
		ttl:       24 * time.Hour,
		timeout:   50 * time.Millisecond,
		perMinute: true,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *RedisStatsStore) key(parts ...string) string {
	return s.prefix + ":" + strings.Join(parts, ":")
}

func (s *RedisStatsStore) Record(ctx context.Context, ev domain.StatsEvent) error {
	if s == nil || s.rdb == nil {
		return nil
	}

	at := ev.At
	if at.IsZero() {
		at = time.Now()
	}
	field := fieldDenied
	if ev.Allowed {
		field = fieldAllowed
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.timeout)
	defer cancel()

	_, err := s.rdb.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HIncrBy(ctx, s.key("total"), field, 1)

		if s.perMinute {
			s.incrExpiring(ctx, pipe, s.key("minute", at.UTC().Format("200601021504")), field)
		}
		if b := strings.TrimSpace(ev.Bucket); b != "" {
			pipe.HIncrBy(ctx, s.key("bucket"), b+":"+field, 1)
		}
		if ev.Backend != "" {
			pipe.HIncrBy(ctx, s.key("backend"), string(ev.Backend)+":"+field, 1)
		}
		if id := strings.TrimSpace(string(ev.Key)); s.trackKeys && id != "" {
			s.incrExpiring(ctx, pipe, s.key("key", id), field)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("record stats: %w", err)
	}
	return nil
}

func (s *RedisStatsStore) incrExpiring(ctx context.Context, pipe redis.Pipeliner, key, field string) {
	pipe.HIncrBy(ctx, key, field, 1)
	if s.ttl > 0 {
		pipe.Expire(ctx, key, s.ttl)
	}
}

// Snapshot lê os agregados globais (todas as instâncias).
func (s *RedisStatsStore) Snapshot(ctx context.Context) (domain.StatsSnapshot, error) {
	var total, buckets, backends *redis.MapStringStringCmd
	_, err := s.rdb.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		total = pipe.HGetAll(ctx, s.key("total"))
		buckets = pipe.HGetAll(ctx, s.key("bucket"))
		backends = pipe.HGetAll(ctx, s.key("backend"))
		return nil
	})
	if err != nil {
		return domain.StatsSnapshot{}, fmt.Errorf("read stats: %w", err)
	}

	snap := domain.StatsSnapshot{
		ByBucket:  make(map[string]domain.StatsCounters),
		ByBackend: make(map[domain.Backend]domain.StatsCounters),
	}
	snap.Total = domain.StatsCounters{
		Allowed: parseCount(total.Val()[fieldAllowed]),
		Denied:  parseCount(total.Val()[fieldDenied]),
	}
	for f, v := range buckets.Val() {
		if name, ok := splitField(f); ok {
			snap.ByBucket[name] = addField(snap.ByBucket[name], f, v)
		}
	}
	for f, v := range backends.Val() {
		if name, ok := splitField(f); ok {
			b := domain.Backend(name)
			snap.ByBackend[b] = addField(snap.ByBackend[b], f, v)
		}
	}
	return snap, nil
}

// splitField separa "<nome>:allowed" pelo último ':' (buckets podem conter ':').
func splitField(f string) (string, bool) {
	i := strings.LastIndexByte(f, ':')
	if i < 0 {
		return "", false
	}
	return f[:i], true
}

func addField(c domain.StatsCounters, field, val string) domain.StatsCounters {
	switch {
	case strings.HasSuffix(field, ":"+fieldAllowed):
		c.Allowed += parseCount(val)
	case strings.HasSuffix(field, ":"+fieldDenied):
		c.Denied += parseCount(val)
	}
	return c
}

func parseCount(v string) int64 {
	n, _ := strconv.ParseInt(v, 10, 64)
	return n
}
