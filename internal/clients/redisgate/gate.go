package redisgate

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"

	"github.com/yungbote/famlink-backend/internal/platform/logger"
)

// Store is the shared-state side of the translation request gate: result
// cache, per-fingerprint single-flight lock, and per-family daily quota.
// Every operation touches a single key, so each is atomic on its own.
type Store interface {
	GetResult(ctx context.Context, fingerprint string) ([]byte, bool, error)
	SetResult(ctx context.Context, fingerprint string, payload []byte) error
	IncrHits(ctx context.Context, fingerprint string) (int64, error)

	QuotaUsed(ctx context.Context, familyID uuid.UUID, day string) (int, error)
	ChargeQuota(ctx context.Context, familyID uuid.UUID, day string, expireIn time.Duration) (int64, error)

	AcquireLock(ctx context.Context, fingerprint, token string, ttl time.Duration) (bool, error)
	ReleaseLock(ctx context.Context, fingerprint, token string) error
	LockHeld(ctx context.Context, fingerprint string) (bool, error)

	Ping(ctx context.Context) error
	Close() error
}

type store struct {
	log       *logger.Logger
	rdb       *goredis.Client
	resultTTL time.Duration
}

// releaseScript deletes the lock only when the caller still holds it, so a
// slow worker never releases a lock some later holder re-acquired.
var releaseScript = goredis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
else
	return 0
end
`)

func NewStore(log *logger.Logger) (Store, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}

	addr := strings.TrimSpace(os.Getenv("REDIS_ADDR"))
	if addr == "" {
		return nil, fmt.Errorf("missing REDIS_ADDR")
	}

	rdb := goredis.NewClient(&goredis.Options{
		Addr:        addr,
		DialTimeout: 5 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	return &store{
		log:       log.With("service", "RedisGate"),
		rdb:       rdb,
		resultTTL: resultTTL(),
	}, nil
}

// NewStoreWithClient wires an existing client, for tests and collectors that
// already hold a connection.
func NewStoreWithClient(log *logger.Logger, rdb *goredis.Client) Store {
	return &store{
		log:       log.With("service", "RedisGate"),
		rdb:       rdb,
		resultTTL: resultTTL(),
	}
}

func resultTTL() time.Duration {
	raw := strings.TrimSpace(os.Getenv("TRANSLATE_CACHE_TTL_HOURS"))
	if raw == "" {
		return 24 * time.Hour
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return 24 * time.Hour
	}
	return time.Duration(n) * time.Hour
}

func resultKey(fp string) string { return "translate:result:" + fp }
func hitsKey(fp string) string   { return "translate:hits:" + fp }
func lockKey(fp string) string   { return "translate:lock:" + fp }

func quotaKey(familyID uuid.UUID, day string) string {
	return "quota:translate:" + familyID.String() + ":" + day
}

func (s *store) GetResult(ctx context.Context, fingerprint string) ([]byte, bool, error) {
	raw, err := s.rdb.Get(ctx, resultKey(fingerprint)).Bytes()
	if err == goredis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("gate get result: %w", err)
	}
	return raw, true, nil
}

func (s *store) SetResult(ctx context.Context, fingerprint string, payload []byte) error {
	if err := s.rdb.Set(ctx, resultKey(fingerprint), payload, s.resultTTL).Err(); err != nil {
		return fmt.Errorf("gate set result: %w", err)
	}
	return nil
}

func (s *store) IncrHits(ctx context.Context, fingerprint string) (int64, error) {
	key := hitsKey(fingerprint)
	n, err := s.rdb.Incr(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("gate incr hits: %w", err)
	}
	// Hit counters live exactly as long as the result they count.
	if err := s.rdb.ExpireNX(ctx, key, s.resultTTL).Err(); err != nil {
		return n, fmt.Errorf("gate expire hits: %w", err)
	}
	return n, nil
}

func (s *store) QuotaUsed(ctx context.Context, familyID uuid.UUID, day string) (int, error) {
	raw, err := s.rdb.Get(ctx, quotaKey(familyID, day)).Result()
	if err == goredis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("gate quota read: %w", err)
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("gate quota parse: %w", err)
	}
	return n, nil
}

// ChargeQuota increments the family's counter for the given local day. The
// expiry lands on the family's next local midnight; ExpireNX also heals a
// counter that lost its expiry to a crash between INCR and EXPIRE.
func (s *store) ChargeQuota(ctx context.Context, familyID uuid.UUID, day string, expireIn time.Duration) (int64, error) {
	key := quotaKey(familyID, day)
	n, err := s.rdb.Incr(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("gate quota incr: %w", err)
	}
	if expireIn > 0 {
		if err := s.rdb.ExpireNX(ctx, key, expireIn).Err(); err != nil {
			return n, fmt.Errorf("gate quota expire: %w", err)
		}
	}
	return n, nil
}

func (s *store) AcquireLock(ctx context.Context, fingerprint, token string, ttl time.Duration) (bool, error) {
	ok, err := s.rdb.SetNX(ctx, lockKey(fingerprint), token, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("gate lock acquire: %w", err)
	}
	return ok, nil
}

func (s *store) ReleaseLock(ctx context.Context, fingerprint, token string) error {
	if err := releaseScript.Run(ctx, s.rdb, []string{lockKey(fingerprint)}, token).Err(); err != nil && err != goredis.Nil {
		return fmt.Errorf("gate lock release: %w", err)
	}
	return nil
}

func (s *store) LockHeld(ctx context.Context, fingerprint string) (bool, error) {
	n, err := s.rdb.Exists(ctx, lockKey(fingerprint)).Result()
	if err != nil {
		return false, fmt.Errorf("gate lock check: %w", err)
	}
	return n > 0, nil
}

func (s *store) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}

func (s *store) Close() error {
	if s == nil || s.rdb == nil {
		return nil
	}
	return s.rdb.Close()
}
