package stepup

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	grantKeyPrefix = "stepup:grant"

	// redisOpTimeout bounds every store round-trip so an unreachable backend
	// denies the request instead of hanging it
	redisOpTimeout = 2 * time.Second

	singleUseMarker = '1'
	reusableMarker  = '0'
)

// consumeGrantScript reads a grant and deletes it in the same Redis call when
// its single-use marker byte is set. This is the atomic compare-and-delete
// that keeps a single-use grant from being consumed twice under concurrency.
const consumeGrantScript = `
local v = redis.call("GET", KEYS[1])
if not v then
  return false
end
if string.sub(v, 1, 1) == "1" then
  redis.call("DEL", KEYS[1])
end
return v
`

var consumeGrantLua = redis.NewScript(consumeGrantScript)

// RedisStore is the ephemeral grant backend. Grants live under a TTL equal
// to their remaining lifetime; expiry needs no sweeper.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore creates an ephemeral grant store
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client, prefix: grantKeyPrefix}
}

func (s *RedisStore) key(adminID, sessionID uuid.UUID, scope Scope) string {
	return fmt.Sprintf("%s:%s:%s:%s", s.prefix, adminID, sessionID, scope)
}

func (s *RedisStore) sessionPattern(adminID, sessionID uuid.UUID) string {
	return fmt.Sprintf("%s:%s:%s:*", s.prefix, adminID, sessionID)
}

func (s *RedisStore) adminPattern(adminID uuid.UUID) string {
	return fmt.Sprintf("%s:%s:*", s.prefix, adminID)
}

func (s *RedisStore) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, redisOpTimeout)
}

// encodeGrant prefixes the JSON body with a single-use marker byte so the
// consume script can decide deletion without parsing JSON
func encodeGrant(grant *Grant) ([]byte, error) {
	body, err := json.Marshal(grant)
	if err != nil {
		return nil, err
	}
	marker := byte(reusableMarker)
	if grant.SingleUse {
		marker = singleUseMarker
	}
	return append([]byte{marker, '|'}, body...), nil
}

func decodeGrant(data []byte) (*Grant, error) {
	if len(data) < 2 || data[1] != '|' {
		return nil, errors.New("corrupt grant record")
	}
	var g Grant
	if err := json.Unmarshal(data[2:], &g); err != nil {
		return nil, err
	}
	return &g, nil
}

// Save stores the grant with a TTL equal to its remaining lifetime. A grant
// that has already expired is not stored; that is a no-op, not an error.
// A connection failure is surfaced so the caller knows the grant is unusable.
func (s *RedisStore) Save(ctx context.Context, grant *Grant) error {
	ttl := grant.TTL(time.Now().UTC())
	if ttl <= 0 {
		return nil
	}

	data, err := encodeGrant(grant)
	if err != nil {
		return fmt.Errorf("failed to encode grant: %w", err)
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	key := s.key(grant.AdminID, grant.SessionID, grant.Scope)
	if err := s.client.Set(ctx, key, data, ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

// Find returns the live grant for the triple. Absence and corruption both
// resolve to nil; connection failures surface as ErrStoreUnavailable.
func (s *RedisStore) Find(ctx context.Context, adminID, sessionID uuid.UUID, scope Scope) (*Grant, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	key := s.key(adminID, sessionID, scope)
	data, err := s.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	g, err := decodeGrant(data)
	if err != nil {
		slog.Warn("dropping corrupt step-up grant", "key", key, "error", err)
		s.client.Del(ctx, key)
		return nil, nil
	}
	return g, nil
}

// Consume atomically reads the grant and deletes it when single-use
func (s *RedisStore) Consume(ctx context.Context, adminID, sessionID uuid.UUID, scope Scope) (*Grant, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	key := s.key(adminID, sessionID, scope)
	res, err := consumeGrantLua.Run(ctx, s.client, []string{key}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	raw, ok := res.(string)
	if !ok {
		return nil, nil
	}

	g, err := decodeGrant([]byte(raw))
	if err != nil {
		slog.Warn("dropping corrupt step-up grant", "key", key, "error", err)
		s.client.Del(ctx, key)
		return nil, nil
	}
	return g, nil
}

// Revoke deletes the grant for the triple
func (s *RedisStore) Revoke(ctx context.Context, adminID, sessionID uuid.UUID, scope Scope) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	if err := s.client.Del(ctx, s.key(adminID, sessionID, scope)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

// RevokeSession deletes every grant bound to the session
func (s *RedisStore) RevokeSession(ctx context.Context, adminID, sessionID uuid.UUID) error {
	return s.deleteByPattern(ctx, s.sessionPattern(adminID, sessionID))
}

// RevokeAll deletes every grant owned by the admin
func (s *RedisStore) RevokeAll(ctx context.Context, adminID uuid.UUID) error {
	return s.deleteByPattern(ctx, s.adminPattern(adminID))
}

func (s *RedisStore) deleteByPattern(ctx context.Context, pattern string) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	keys, err := s.client.Keys(ctx, pattern).Result()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if len(keys) == 0 {
		return nil
	}
	if err := s.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}
