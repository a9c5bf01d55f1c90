// Package redisstore implements store.Store on Redis. Every multi-step
// mutation runs inside a Lua script, so per-token transitions are serialized
// by Redis itself: a rotate and a concurrent revoke on the same token cannot
// both win.
package redisstore

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mwhern/tokenward/store"
)

const sweepBatchSize = 512

const (
	rotateStatusNotFound int64 = 0
	rotateStatusConflict int64 = 1
	rotateStatusRotated  int64 = 2
)

const (
	revokeStatusNotFound int64 = 0
	revokeStatusRevoked  int64 = 1
	revokeStatusAlready  int64 = 2
)

const createScript = `
if redis.call("EXISTS", KEYS[1]) == 1 then
  return 0
end
redis.call("HSET", KEYS[1],
  "user_id", ARGV[2],
  "jwt_id", ARGV[3],
  "created_at", ARGV[4],
  "expires_at", ARGV[5],
  "created_by_ip", ARGV[6],
  "device_info", ARGV[7],
  "revoked", "0",
  "revoked_at", "0",
  "revoked_by_ip", "",
  "reason", "",
  "replaced_by", "")
redis.call("ZADD", KEYS[2], tonumber(ARGV[4]), ARGV[1])
redis.call("ZADD", KEYS[3], tonumber(ARGV[5]), ARGV[1])
return 1
`

var createLua = redis.NewScript(createScript)

const revokeScript = `
if redis.call("EXISTS", KEYS[1]) == 0 then
  return 0
end
if redis.call("HGET", KEYS[1], "revoked") == "1" then
  return 2
end
redis.call("HSET", KEYS[1],
  "revoked", "1",
  "revoked_at", ARGV[1],
  "revoked_by_ip", ARGV[2],
  "reason", ARGV[3])
if ARGV[4] ~= "" then
  redis.call("HSET", KEYS[1], "replaced_by", ARGV[4])
end
return 1
`

var revokeLua = redis.NewScript(revokeScript)

const rotateScript = `
if redis.call("EXISTS", KEYS[1]) == 0 then
  return 0
end
if redis.call("HGET", KEYS[1], "revoked") == "1" then
  return 1
end
if tonumber(redis.call("HGET", KEYS[1], "expires_at")) <= tonumber(ARGV[1]) then
  return 1
end
if redis.call("EXISTS", KEYS[2]) == 1 then
  return 1
end
redis.call("HSET", KEYS[2],
  "user_id", ARGV[6],
  "jwt_id", ARGV[7],
  "created_at", ARGV[8],
  "expires_at", ARGV[9],
  "created_by_ip", ARGV[10],
  "device_info", ARGV[11],
  "revoked", "0",
  "revoked_at", "0",
  "revoked_by_ip", "",
  "reason", "",
  "replaced_by", "")
redis.call("ZADD", KEYS[3], tonumber(ARGV[8]), ARGV[2])
redis.call("ZADD", KEYS[4], tonumber(ARGV[9]), ARGV[2])
redis.call("HSET", KEYS[1],
  "revoked", "1",
  "revoked_at", ARGV[3],
  "revoked_by_ip", ARGV[4],
  "reason", ARGV[5],
  "replaced_by", ARGV[2])
return 2
`

var rotateLua = redis.NewScript(rotateScript)

const revokeAllScript = `
local tokens = redis.call("ZRANGE", KEYS[1], 0, -1)
local count = 0
for _, t in ipairs(tokens) do
  local k = ARGV[1] .. t
  if redis.call("EXISTS", k) == 1 then
    local revoked = redis.call("HGET", k, "revoked")
    local expires = tonumber(redis.call("HGET", k, "expires_at"))
    if revoked ~= "1" and expires > tonumber(ARGV[2]) then
      redis.call("HSET", k,
        "revoked", "1",
        "revoked_at", ARGV[3],
        "revoked_by_ip", ARGV[4],
        "reason", ARGV[5])
      count = count + 1
    end
  end
end
return count
`

var revokeAllLua = redis.NewScript(revokeAllScript)

const sweepScript = `
local tokens = redis.call("ZRANGEBYSCORE", KEYS[1], "-inf", ARGV[3], "LIMIT", 0, tonumber(ARGV[4]))
local removed = 0
for _, t in ipairs(tokens) do
  local k = ARGV[1] .. t
  local uid = redis.call("HGET", k, "user_id")
  if uid then
    redis.call("ZREM", ARGV[2] .. uid, t)
  end
  redis.call("DEL", k)
  redis.call("ZREM", KEYS[1], t)
  removed = removed + 1
end
return removed
`

var sweepLua = redis.NewScript(sweepScript)

// Store is the Redis-backed refresh-token store. The per-user index is a ZSET
// scored by creation time, which makes the oldest-Active lookup for session
// eviction a range read rather than a scan.
type Store struct {
	redis  redis.UniversalClient
	prefix string
}

// New wraps an existing Redis client. prefix namespaces all keys; empty
// defaults to "tw".
func New(client redis.UniversalClient, prefix string) *Store {
	if prefix == "" {
		prefix = "tw"
	}
	return &Store{
		redis:  client,
		prefix: prefix,
	}
}

func (s *Store) tokenKeyPrefix() string {
	return s.prefix + ":rt:"
}

func (s *Store) tokenKey(token string) string {
	return s.tokenKeyPrefix() + token
}

func (s *Store) userKeyPrefix() string {
	return s.prefix + ":u:"
}

func (s *Store) userKey(userID string) string {
	return s.userKeyPrefix() + userID
}

func (s *Store) expiryKey() string {
	return s.prefix + ":exp"
}

// Create persists the token as Active and indexes it by user and expiry.
func (s *Store) Create(ctx context.Context, token *store.RefreshToken) error {
	keys := []string{s.tokenKey(token.Token), s.userKey(token.UserID), s.expiryKey()}
	result, err := createLua.Run(ctx, s.redis, keys,
		token.Token,
		token.UserID,
		token.JWTID,
		strconv.FormatInt(token.CreatedAt.UnixMilli(), 10),
		strconv.FormatInt(token.ExpiresAt.UnixMilli(), 10),
		token.CreatedByIP,
		token.DeviceInfo,
	).Int64()
	if err != nil {
		return fmt.Errorf("%w: %v", store.ErrUnavailable, err)
	}
	if result == 0 {
		return store.ErrConflict
	}
	return nil
}

// Get fetches a single row by token value.
func (s *Store) Get(ctx context.Context, token string) (*store.RefreshToken, error) {
	fields, err := s.redis.HGetAll(ctx, s.tokenKey(token)).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", store.ErrUnavailable, err)
	}
	if len(fields) == 0 {
		return nil, store.ErrNotFound
	}
	return decodeToken(token, fields)
}

// ActiveByUser returns the user's Active tokens ordered oldest first. The
// index ZSET is scored by creation time, so the order falls out of the range
// read.
func (s *Store) ActiveByUser(ctx context.Context, userID string) ([]*store.RefreshToken, error) {
	tokens, err := s.redis.ZRange(ctx, s.userKey(userID), 0, -1).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return []*store.RefreshToken{}, nil
		}
		return nil, fmt.Errorf("%w: %v", store.ErrUnavailable, err)
	}
	if len(tokens) == 0 {
		return []*store.RefreshToken{}, nil
	}

	pipe := s.redis.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(tokens))
	for i, t := range tokens {
		cmds[i] = pipe.HGetAll(ctx, s.tokenKey(t))
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%w: %v", store.ErrUnavailable, err)
	}

	now := time.Now()
	active := make([]*store.RefreshToken, 0, len(tokens))
	for i, cmd := range cmds {
		fields, cmdErr := cmd.Result()
		if cmdErr != nil || len(fields) == 0 {
			continue
		}
		rt, decErr := decodeToken(tokens[i], fields)
		if decErr != nil {
			return nil, decErr
		}
		if rt.IsActive(now) {
			active = append(active, rt)
		}
	}
	return active, nil
}

// CountActiveByUser returns the user's Active token count.
func (s *Store) CountActiveByUser(ctx context.Context, userID string) (int, error) {
	active, err := s.ActiveByUser(ctx, userID)
	if err != nil {
		return 0, err
	}
	return len(active), nil
}

// Revoke transitions the token out of Active via a CAS script. Already
// revoked tokens are reported, not mutated.
func (s *Store) Revoke(ctx context.Context, token string, rev store.Revocation) (bool, error) {
	result, err := revokeLua.Run(ctx, s.redis, []string{s.tokenKey(token)},
		strconv.FormatInt(rev.At.UnixMilli(), 10),
		rev.IP,
		rev.Reason,
		rev.ReplacedByToken,
	).Int64()
	if err != nil {
		return false, fmt.Errorf("%w: %v", store.ErrUnavailable, err)
	}

	switch result {
	case revokeStatusNotFound:
		return false, store.ErrNotFound
	case revokeStatusAlready:
		return true, nil
	case revokeStatusRevoked:
		return false, nil
	default:
		return false, fmt.Errorf("%w: unknown revoke script status %d", store.ErrUnavailable, result)
	}
}

// Rotate atomically persists next and marks oldToken rotated. The whole
// transition is one Lua script, so either both rows change or neither does.
func (s *Store) Rotate(ctx context.Context, oldToken string, rev store.Revocation, next *store.RefreshToken) error {
	keys := []string{
		s.tokenKey(oldToken),
		s.tokenKey(next.Token),
		s.userKey(next.UserID),
		s.expiryKey(),
	}
	result, err := rotateLua.Run(ctx, s.redis, keys,
		strconv.FormatInt(time.Now().UnixMilli(), 10),
		next.Token,
		strconv.FormatInt(rev.At.UnixMilli(), 10),
		rev.IP,
		rev.Reason,
		next.UserID,
		next.JWTID,
		strconv.FormatInt(next.CreatedAt.UnixMilli(), 10),
		strconv.FormatInt(next.ExpiresAt.UnixMilli(), 10),
		next.CreatedByIP,
		next.DeviceInfo,
	).Int64()
	if err != nil {
		return fmt.Errorf("%w: %v", store.ErrUnavailable, err)
	}

	switch result {
	case rotateStatusNotFound:
		return store.ErrNotFound
	case rotateStatusConflict:
		return store.ErrConflict
	case rotateStatusRotated:
		return nil
	default:
		return fmt.Errorf("%w: unknown rotate script status %d", store.ErrUnavailable, result)
	}
}

// RevokeAllForUser revokes every Active token of the user in one script
// invocation; Redis single-threading makes it atomic with respect to
// concurrent Create calls.
func (s *Store) RevokeAllForUser(ctx context.Context, userID string, rev store.Revocation) (int, error) {
	count, err := revokeAllLua.Run(ctx, s.redis, []string{s.userKey(userID)},
		s.tokenKeyPrefix(),
		strconv.FormatInt(time.Now().UnixMilli(), 10),
		strconv.FormatInt(rev.At.UnixMilli(), 10),
		rev.IP,
		rev.Reason,
	).Int64()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", store.ErrUnavailable, err)
	}
	return int(count), nil
}

// DeleteExpiredBefore removes rows expired at or before cutoff in batches,
// cleaning the user and expiry indexes alongside.
func (s *Store) DeleteExpiredBefore(ctx context.Context, cutoff time.Time) (int, error) {
	total := 0
	cutoffArg := strconv.FormatInt(cutoff.UnixMilli(), 10)

	for {
		removed, err := sweepLua.Run(ctx, s.redis, []string{s.expiryKey()},
			s.tokenKeyPrefix(),
			s.userKeyPrefix(),
			cutoffArg,
			strconv.Itoa(sweepBatchSize),
		).Int64()
		if err != nil {
			return total, fmt.Errorf("%w: %v", store.ErrUnavailable, err)
		}
		total += int(removed)
		if removed < sweepBatchSize {
			return total, nil
		}
	}
}

// Ping checks Redis availability.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.redis.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("%w: %v", store.ErrUnavailable, err)
	}
	return nil
}

func decodeToken(token string, fields map[string]string) (*store.RefreshToken, error) {
	createdAt, err := parseMillis(fields["created_at"])
	if err != nil {
		return nil, fmt.Errorf("%w: corrupt created_at for token", store.ErrUnavailable)
	}
	expiresAt, err := parseMillis(fields["expires_at"])
	if err != nil {
		return nil, fmt.Errorf("%w: corrupt expires_at for token", store.ErrUnavailable)
	}

	rt := &store.RefreshToken{
		Token:            token,
		UserID:           fields["user_id"],
		JWTID:            fields["jwt_id"],
		CreatedAt:        createdAt,
		ExpiresAt:        expiresAt,
		CreatedByIP:      fields["created_by_ip"],
		DeviceInfo:       fields["device_info"],
		Revoked:          fields["revoked"] == "1",
		RevokedByIP:      fields["revoked_by_ip"],
		RevocationReason: fields["reason"],
		ReplacedByToken:  fields["replaced_by"],
	}
	if rt.Revoked {
		revokedAt, err := parseMillis(fields["revoked_at"])
		if err != nil {
			return nil, fmt.Errorf("%w: corrupt revoked_at for token", store.ErrUnavailable)
		}
		rt.RevokedAt = revokedAt
	}
	return rt, nil
}

func parseMillis(v string) (time.Time, error) {
	ms, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return time.Time{}, err
	}
	return time.UnixMilli(ms), nil
}
