package infra

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"paygate-gateway/middleware/ratelimit/domain"
)

// slidingWindowScript faz poda + contagem + inserção em uma única operação atômica
// no servidor. Separar isso em round-trips deixaria duas requisições concorrentes
// passarem juntas entre o ZCARD e o ZADD.
//
// KEYS[1]: chave do sorted set (score = timestamp em ms)
// ARGV[1]: agora (ms)  ARGV[2]: janela (ms)  ARGV[3]: limite  ARGV[4]: membro único
// Retorno: {admitido (0/1), restantes, reset_at (ms)}
var slidingWindowScript = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])
local member = ARGV[4]

redis.call('ZREMRANGEBYSCORE', key, '-inf', now - window)
local count = redis.call('ZCARD', key)

local allowed = 0
local remaining = 0
if count < limit then
    redis.call('ZADD', key, now, member)
    redis.call('PEXPIRE', key, window)
    allowed = 1
    remaining = limit - count - 1
end

local reset_at = now + window
local oldest = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
if oldest[2] then
    reset_at = tonumber(oldest[2]) + window
end

return {allowed, remaining, reset_at}
`)

// RedisStore é a janela deslizante compartilhada entre todas as instâncias.
//
// Cada chamada tem timeout curto e não herda o cancelamento da requisição: se o
// cliente desistir no meio, o script ainda termina e o contador fica consistente.
// Qualquer erro volta envolvido em domain.ErrStoreUnavailable para o Service cair
// no fallback local.
type RedisStore struct {
	rdb     redis.UniversalClient
	prefix  string
	timeout time.Duration
	newID   func() string
}

var _ domain.WindowStore = (*RedisStore)(nil)

type RedisStoreOption func(*RedisStore)

func WithKeyPrefix(prefix string) RedisStoreOption {
	return func(s *RedisStore) {
		s.prefix = strings.TrimRight(prefix, ":") + ":"
	}
}

// WithTimeout limita cada TryAdmit. Deve ficar na casa das dezenas de ms.
func WithTimeout(d time.Duration) RedisStoreOption {
	return func(s *RedisStore) {
		if d > 0 {
			s.timeout = d
		}
	}
}

func NewRedisStore(rdb redis.UniversalClient, opts ...RedisStoreOption) *RedisStore {
	s := &RedisStore{
		rdb:     rdb,
		prefix:  "ratelimit:window:",
		timeout: 50 * time.Millisecond,
		newID:   uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *RedisStore) Backend() domain.Backend { return domain.BackendDistributed }

func (s *RedisStore) Timeout() time.Duration { return s.timeout }

// Ping verifica a conexão respeitando o mesmo timeout das decisões.
func (s *RedisStore) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	if err := s.rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("%w: ping: %w", domain.ErrStoreUnavailable, err)
	}
	return nil
}

// TryAdmit implementa domain.WindowStore.
func (s *RedisStore) TryAdmit(ctx context.Context, key string, limit int, window time.Duration, now time.Time) (domain.Admission, error) {
	if limit < 1 || window <= 0 {
		return domain.Admission{}, fmt.Errorf("%w: limit=%d window=%s", domain.ErrInvalidPolicy, limit, window)
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.timeout)
	defer cancel()

	nowMs := now.UnixMilli()
	winMs := windowMillis(window)
	// membros únicos: duas requisições no mesmo ms não podem colapsar em uma
	member := strconv.FormatInt(nowMs, 10) + "-" + s.newID()

	res, err := slidingWindowScript.Run(ctx, s.rdb, []string{s.redisKey(key)}, nowMs, winMs, limit, member).Int64Slice()
	if err != nil {
		return domain.Admission{}, fmt.Errorf("%w: %w", domain.ErrStoreUnavailable, err)
	}
	if len(res) != 3 {
		return domain.Admission{}, fmt.Errorf("%w: unexpected script reply %v", domain.ErrStoreUnavailable, res)
	}

	return domain.Admission{
		Admitted:  res[0] == 1,
		Remaining: int(res[1]),
		ResetAt:   time.UnixMilli(res[2]),
	}, nil
}

// chaves vêm de padrões como /content/{id}; chaves entre {} virariam hash tag no
// Redis Cluster e concentrariam todo mundo no mesmo slot
var hashTagEscaper = strings.NewReplacer("{", "%7B", "}", "%7D")

func (s *RedisStore) redisKey(key string) string {
	return s.prefix + hashTagEscaper.Replace(key)
}
