package session

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	rotateStatusNotFound int64 = 0
	rotateStatusExpired  int64 = 1
	rotateStatusRotated  int64 = 2
)

// rotateScript consumes the record under KEYS[1] and re-keys it under
// KEYS[2]. The DEL happens before the expiry check so that an expired token
// is also burned on first presentation.
const rotateScript = `
local fields = redis.call("HMGET", KEYS[1],
  "identity_id", "expires_at_ms", "remember_me", "created_at_ms", "ip", "user_agent")
if not fields[1] then
  return {0}
end

local index_key = ARGV[1] .. fields[1]
redis.call("DEL", KEYS[1])
redis.call("SREM", index_key, ARGV[2])

local expires_ms = tonumber(fields[2])
local now_ms = tonumber(ARGV[4])
if not expires_ms or expires_ms <= now_ms then
  return {1}
end

redis.call("HSET", KEYS[2],
  "identity_id", fields[1],
  "expires_at_ms", ARGV[5],
  "remember_me", fields[3] or "0",
  "created_at_ms", fields[4] or "0",
  "ip", fields[5] or "",
  "user_agent", fields[6] or "")
redis.call("PEXPIRE", KEYS[2], tonumber(ARGV[5]) - now_ms)
redis.call("SADD", index_key, ARGV[3])

return {2, fields[1], fields[3] or "0", fields[4] or "0", fields[5] or "", fields[6] or ""}
`

var rotateLua = redis.NewScript(rotateScript)

const deleteScript = `
local identity = redis.call("HGET", KEYS[1], "identity_id")
if not identity then
  return 0
end
redis.call("DEL", KEYS[1])
redis.call("SREM", ARGV[1] .. identity, ARGV[2])
return 1
`

var deleteLua = redis.NewScript(deleteScript)

// RedisStore keeps refresh-token records in Redis hashes with a per-identity
// set index. Record keys carry a TTL matching the record expiry, so Redis
// reaps lapsed records on its own; DeleteExpired only prunes the index.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisStore returns a store namespaced under prefix.
func NewRedisStore(client redis.UniversalClient, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "clinicauth"
	}
	return &RedisStore{client: client, prefix: prefix}
}

func (s *RedisStore) tokenKey(tokenHash string) string {
	return s.prefix + ":rt:" + tokenHash
}

func (s *RedisStore) indexPrefix() string {
	return s.prefix + ":idx:"
}

func (s *RedisStore) indexKey(identityID string) string {
	return s.indexPrefix() + identityID
}

// Save persists rec with a TTL running to rec.ExpiresAt.
func (s *RedisStore) Save(ctx context.Context, rec *Record) error {
	if rec.TokenHash == "" || rec.IdentityID == "" {
		return errors.New("session: record needs token hash and identity id")
	}
	created := rec.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	ttl := time.Until(rec.ExpiresAt)
	if ttl <= 0 {
		return fmt.Errorf("session: record for identity %s already expired", rec.IdentityID)
	}

	key := s.tokenKey(rec.TokenHash)
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key, map[string]interface{}{
			"identity_id":   rec.IdentityID,
			"expires_at_ms": rec.ExpiresAt.UnixMilli(),
			"remember_me":   boolField(rec.RememberMe),
			"created_at_ms": created.UnixMilli(),
			"ip":            rec.IP,
			"user_agent":    rec.UserAgent,
		})
		pipe.PExpire(ctx, key, ttl)
		pipe.SAdd(ctx, s.indexKey(rec.IdentityID), rec.TokenHash)
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// Get returns the record under tokenHash, deleting it first if it has
// lapsed.
func (s *RedisStore) Get(ctx context.Context, tokenHash string) (*Record, error) {
	fields, err := s.client.HGetAll(ctx, s.tokenKey(tokenHash)).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if len(fields) == 0 {
		return nil, ErrNotFound
	}

	rec, err := recordFromFields(tokenHash, fields)
	if err != nil {
		return nil, err
	}
	if !rec.ExpiresAt.After(time.Now()) {
		if delErr := s.Delete(ctx, tokenHash); delErr != nil {
			return nil, delErr
		}
		return nil, ErrExpired
	}
	return rec, nil
}

// Rotate runs the compare-and-swap script; see Store for semantics.
func (s *RedisStore) Rotate(ctx context.Context, oldHash, newHash string, expiresAt time.Time) (*Record, error) {
	now := time.Now()
	result, err := rotateLua.Run(
		ctx,
		s.client,
		[]string{s.tokenKey(oldHash), s.tokenKey(newHash)},
		s.indexPrefix(),
		oldHash,
		newHash,
		now.UnixMilli(),
		expiresAt.UnixMilli(),
	).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	parts, ok := result.([]interface{})
	if !ok || len(parts) == 0 {
		return nil, fmt.Errorf("%w: invalid rotate script response", ErrUnavailable)
	}
	code, ok := parts[0].(int64)
	if !ok {
		return nil, fmt.Errorf("%w: invalid rotate script status", ErrUnavailable)
	}

	switch code {
	case rotateStatusNotFound:
		return nil, ErrNotFound
	case rotateStatusExpired:
		return nil, ErrExpired
	case rotateStatusRotated:
		if len(parts) < 6 {
			return nil, fmt.Errorf("%w: short rotate script response", ErrUnavailable)
		}
		createdMS, _ := strconv.ParseInt(scriptString(parts[3]), 10, 64)
		return &Record{
			TokenHash:  newHash,
			IdentityID: scriptString(parts[1]),
			ExpiresAt:  expiresAt,
			RememberMe: scriptString(parts[2]) == "1",
			CreatedAt:  time.UnixMilli(createdMS),
			IP:         scriptString(parts[4]),
			UserAgent:  scriptString(parts[5]),
		}, nil
	default:
		return nil, fmt.Errorf("%w: unknown rotate script status %d", ErrUnavailable, code)
	}
}

// Delete removes the record and its index entry.
func (s *RedisStore) Delete(ctx context.Context, tokenHash string) error {
	err := deleteLua.Run(
		ctx,
		s.client,
		[]string{s.tokenKey(tokenHash)},
		s.indexPrefix(),
		tokenHash,
	).Err()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// DeleteAllForIdentity removes every record indexed for identityID.
func (s *RedisStore) DeleteAllForIdentity(ctx context.Context, identityID string) (int, error) {
	indexKey := s.indexKey(identityID)
	hashes, err := s.client.SMembers(ctx, indexKey).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	keys := make([]string, 0, len(hashes)+1)
	for _, h := range hashes {
		keys = append(keys, s.tokenKey(h))
	}
	keys = append(keys, indexKey)

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, keys...)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return len(hashes), nil
}

// DeleteExpired prunes index entries whose record keys Redis has already
// reaped by TTL. Record keys themselves never outlive their expiry.
func (s *RedisStore) DeleteExpired(ctx context.Context) (int, error) {
	var (
		cursor uint64
		pruned int
	)
	pattern := s.indexPrefix() + "*"

	for {
		indexKeys, next, err := s.client.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			return pruned, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}

		for _, indexKey := range indexKeys {
			hashes, err := s.client.SMembers(ctx, indexKey).Result()
			if err != nil {
				return pruned, fmt.Errorf("%w: %v", ErrUnavailable, err)
			}
			for _, h := range hashes {
				exists, err := s.client.Exists(ctx, s.tokenKey(h)).Result()
				if err != nil {
					return pruned, fmt.Errorf("%w: %v", ErrUnavailable, err)
				}
				if exists == 0 {
					if err := s.client.SRem(ctx, indexKey, h).Err(); err != nil {
						return pruned, fmt.Errorf("%w: %v", ErrUnavailable, err)
					}
					pruned++
				}
			}
		}

		cursor = next
		if cursor == 0 {
			break
		}
	}
	return pruned, nil
}

// Ping reports Redis availability.
func (s *RedisStore) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

func recordFromFields(tokenHash string, fields map[string]string) (*Record, error) {
	expiresMS, err := strconv.ParseInt(fields["expires_at_ms"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("session: corrupt expiry for %s: %v", tokenHash, err)
	}
	createdMS, _ := strconv.ParseInt(fields["created_at_ms"], 10, 64)

	return &Record{
		TokenHash:  tokenHash,
		IdentityID: fields["identity_id"],
		ExpiresAt:  time.UnixMilli(expiresMS),
		RememberMe: fields["remember_me"] == "1",
		CreatedAt:  time.UnixMilli(createdMS),
		IP:         fields["ip"],
		UserAgent:  fields["user_agent"],
	}, nil
}

func scriptString(v interface{}) string {
	switch s := v.(type) {
	case string:
		return s
	case []byte:
		return string(s)
	default:
		return ""
	}
}

func boolField(b bool) string {
	if b {
		return "1"
	}
	return "0"
}
