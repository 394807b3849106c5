package authkit

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisRecordRetention keeps revoked and expired records readable for a day past expiry
// before Redis evicts them.
const RedisRecordRetention = 24 * time.Hour

const defaultRedisKeyPrefix = "shopauth"

const (
	revokeStatusNotFound       int64 = 0
	revokeStatusAlreadyRevoked int64 = 1
	revokeStatusRevoked        int64 = 2
)

const createRecordScript = `
if redis.call("EXISTS", KEYS[1]) == 1 then
  return 0
end
redis.call("HSET", KEYS[1], "id", ARGV[1], "user_id", ARGV[2], "expires_unix", ARGV[3], "revoked", "0", "revoked_at_unix", "0", "created_at_unix", ARGV[4])
redis.call("EXPIREAT", KEYS[1], ARGV[5])
redis.call("SET", KEYS[2], ARGV[6])
redis.call("EXPIREAT", KEYS[2], ARGV[5])
redis.call("SADD", KEYS[3], ARGV[6])
local remaining = redis.call("TTL", KEYS[3])
if remaining < 0 or remaining < tonumber(ARGV[5]) - tonumber(ARGV[4]) then
  redis.call("EXPIREAT", KEYS[3], ARGV[5])
end
return 1
`

const markRevokedScript = `
if redis.call("EXISTS", KEYS[1]) == 0 then
  return 0
end
if redis.call("HGET", KEYS[1], "id") ~= ARGV[1] then
  return 0
end
if redis.call("HGET", KEYS[1], "revoked") == "1" then
  return 1
end
redis.call("HSET", KEYS[1], "revoked", "1", "revoked_at_unix", ARGV[2])
return 2
`

const revokeAllScript = `
local hashes = redis.call("SMEMBERS", KEYS[1])
local revoked = 0
for _, hash in ipairs(hashes) do
  local key = ARGV[1] .. hash
  if redis.call("EXISTS", key) == 1 then
    if redis.call("HGET", key, "revoked") ~= "1" then
      redis.call("HSET", key, "revoked", "1", "revoked_at_unix", ARGV[2])
      revoked = revoked + 1
    end
  else
    redis.call("SREM", KEYS[1], hash)
  end
end
return revoked
`

var (
	createRecordLua = redis.NewScript(createRecordScript)
	markRevokedLua  = redis.NewScript(markRevokedScript)
	revokeAllLua    = redis.NewScript(revokeAllScript)
)

// RedisRefreshTokenStore keeps refresh token records in Redis hashes keyed by token hash.
// Revocation runs in Lua scripts so the check and the flip happen atomically.
type RedisRefreshTokenStore struct {
	client    redis.UniversalClient
	keyPrefix string
	clock     Clock
}

// OpenRedisClient parses a redis:// URL and verifies connectivity.
func OpenRedisClient(ctx context.Context, redisURL string) (*redis.Client, error) {
	options, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("refresh_store.redis.parse_url: %w", err)
	}
	client := redis.NewClient(options)
	if pingErr := client.Ping(ctx).Err(); pingErr != nil {
		_ = client.Close()
		return nil, fmt.Errorf("refresh_store.redis.ping: %w", pingErr)
	}
	return client, nil
}

// NewRedisRefreshTokenStore constructs a store; an empty prefix defaults to "shopauth".
func NewRedisRefreshTokenStore(client redis.UniversalClient, keyPrefix string) *RedisRefreshTokenStore {
	if strings.TrimSpace(keyPrefix) == "" {
		keyPrefix = defaultRedisKeyPrefix
	}
	return &RedisRefreshTokenStore{client: client, keyPrefix: keyPrefix, clock: NewSystemClock()}
}

// CreateRecord stores a new active record and indexes it by id and user.
func (store *RedisRefreshTokenStore) CreateRecord(ctx context.Context, token string, userID string, expiresAt time.Time) (RefreshTokenRecord, error) {
	if strings.TrimSpace(token) == "" {
		return RefreshTokenRecord{}, fmt.Errorf("refresh_store.create.redis: %w", ErrRefreshTokenEmpty)
	}
	hashValue := HashRefreshToken(token)
	now := store.clock.Now()
	record := RefreshTokenRecord{
		ID:        newRecordID(),
		Token:     token,
		UserID:    userID,
		ExpiresAt: time.Unix(expiresAt.UTC().Unix(), 0).UTC(),
		CreatedAt: time.Unix(now.Unix(), 0).UTC(),
	}
	retainUntil := record.ExpiresAt.Add(RedisRecordRetention).Unix()
	created, err := createRecordLua.Run(ctx, store.client,
		[]string{store.recordKey(hashValue), store.idKey(record.ID), store.userKey(userID)},
		record.ID, userID, record.ExpiresAt.Unix(), record.CreatedAt.Unix(), retainUntil, hashValue,
	).Int64()
	if err != nil {
		return RefreshTokenRecord{}, fmt.Errorf("refresh_store.create.redis: %w", err)
	}
	if created == 0 {
		return RefreshTokenRecord{}, fmt.Errorf("refresh_store.create.redis: %w", ErrRefreshTokenDuplicate)
	}
	return record, nil
}

// FindActiveByToken loads the record for token unless it is revoked or missing.
func (store *RedisRefreshTokenStore) FindActiveByToken(ctx context.Context, token string) (RefreshTokenRecord, error) {
	if strings.TrimSpace(token) == "" {
		return RefreshTokenRecord{}, fmt.Errorf("refresh_store.find.redis: %w", ErrRefreshTokenEmpty)
	}
	fields, err := store.client.HGetAll(ctx, store.recordKey(HashRefreshToken(token))).Result()
	if err != nil {
		return RefreshTokenRecord{}, fmt.Errorf("refresh_store.find.redis: %w", err)
	}
	if len(fields) == 0 || fields["revoked"] == "1" {
		return RefreshTokenRecord{}, fmt.Errorf("refresh_store.find.redis: %w", ErrRefreshTokenNotFound)
	}
	record, parseErr := parseRedisRecord(fields)
	if parseErr != nil {
		return RefreshTokenRecord{}, fmt.Errorf("refresh_store.find.redis: %w", parseErr)
	}
	record.Token = token
	return record, nil
}

// MarkRevoked flips the record to revoked inside a Lua script.
func (store *RedisRefreshTokenStore) MarkRevoked(ctx context.Context, record RefreshTokenRecord) error {
	hashValue, err := store.resolveHash(ctx, record)
	if err != nil {
		return err
	}
	status, runErr := markRevokedLua.Run(ctx, store.client,
		[]string{store.recordKey(hashValue)},
		record.ID, store.clock.Now().Unix(),
	).Int64()
	if runErr != nil {
		return fmt.Errorf("refresh_store.revoke.redis: %w", runErr)
	}
	switch status {
	case revokeStatusRevoked:
		return nil
	case revokeStatusAlreadyRevoked:
		return fmt.Errorf("refresh_store.revoke.redis: %w", ErrRefreshTokenAlreadyRevoked)
	default:
		return fmt.Errorf("refresh_store.revoke.redis: %w", ErrRefreshTokenNotFound)
	}
}

// RevokeAllForUser revokes every record indexed under userID.
func (store *RedisRefreshTokenStore) RevokeAllForUser(ctx context.Context, userID string) error {
	if err := revokeAllLua.Run(ctx, store.client,
		[]string{store.userKey(userID)},
		store.recordKey(""), store.clock.Now().Unix(),
	).Err(); err != nil {
		return fmt.Errorf("refresh_store.revoke_all.redis: %w", err)
	}
	return nil
}

func (store *RedisRefreshTokenStore) resolveHash(ctx context.Context, record RefreshTokenRecord) (string, error) {
	if record.Token != "" {
		return HashRefreshToken(record.Token), nil
	}
	hashValue, err := store.client.Get(ctx, store.idKey(record.ID)).Result()
	if errors.Is(err, redis.Nil) {
		return "", fmt.Errorf("refresh_store.revoke.redis: %w", ErrRefreshTokenNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("refresh_store.revoke.redis: %w", err)
	}
	return hashValue, nil
}

func (store *RedisRefreshTokenStore) recordKey(hashValue string) string {
	return store.keyPrefix + ":refresh:" + hashValue
}

func (store *RedisRefreshTokenStore) idKey(recordID string) string {
	return store.keyPrefix + ":refresh_id:" + recordID
}

func (store *RedisRefreshTokenStore) userKey(userID string) string {
	return store.keyPrefix + ":user_refresh:" + userID
}

func parseRedisRecord(fields map[string]string) (RefreshTokenRecord, error) {
	expiresUnix, err := strconv.ParseInt(fields["expires_unix"], 10, 64)
	if err != nil {
		return RefreshTokenRecord{}, fmt.Errorf("corrupt expires_unix: %w", err)
	}
	createdUnix, err := strconv.ParseInt(fields["created_at_unix"], 10, 64)
	if err != nil {
		return RefreshTokenRecord{}, fmt.Errorf("corrupt created_at_unix: %w", err)
	}
	record := RefreshTokenRecord{
		ID:        fields["id"],
		UserID:    fields["user_id"],
		ExpiresAt: time.Unix(expiresUnix, 0).UTC(),
		IsRevoked: fields["revoked"] == "1",
		CreatedAt: time.Unix(createdUnix, 0).UTC(),
	}
	if revokedUnix, parseErr := strconv.ParseInt(fields["revoked_at_unix"], 10, 64); parseErr == nil && revokedUnix != 0 {
		record.RevokedAt = time.Unix(revokedUnix, 0).UTC()
	}
	return record, nil
}
