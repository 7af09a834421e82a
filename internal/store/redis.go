package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Key layout under the configured prefix:
//
//	user:<email>      hash holding the credential record
//	refresh:<token>   string holding the owning email
//	users             set of registered emails
const (
	userKeyPart    = "user:"
	refreshKeyPart = "refresh:"
	usersKeyPart   = "users"
)

const createScript = `
if redis.call("EXISTS", KEYS[1]) == 1 then
  return 0
end
redis.call("HSET", KEYS[1],
  "id", ARGV[1], "name", ARGV[2], "email", ARGV[3], "password_hash", ARGV[4],
  "refresh_token", "", "created_at", ARGV[5], "updated_at", ARGV[6])
redis.call("SADD", KEYS[2], ARGV[3])
return 1
`

const setRefreshScript = `
if redis.call("EXISTS", KEYS[1]) == 0 then
  return 0
end
local old = redis.call("HGET", KEYS[1], "refresh_token")
if old and old ~= "" then
  redis.call("DEL", ARGV[3] .. old)
end
redis.call("HSET", KEYS[1], "refresh_token", ARGV[1], "updated_at", ARGV[2])
if ARGV[1] ~= "" then
  redis.call("SET", ARGV[3] .. ARGV[1], redis.call("HGET", KEYS[1], "email"))
end
return 1
`

// Compare-and-swap on the stored refresh token. An empty replacement clears it.
const rotateRefreshScript = `
local email = redis.call("GET", KEYS[1])
if not email then
  return false
end
local key = ARGV[4] .. email
if redis.call("HGET", key, "refresh_token") ~= ARGV[1] then
  return false
end
redis.call("HSET", key, "refresh_token", ARGV[2], "updated_at", ARGV[3])
redis.call("DEL", KEYS[1])
if ARGV[2] ~= "" then
  redis.call("SET", ARGV[5] .. ARGV[2], email)
end
return email
`

var (
	createLua        = redis.NewScript(createScript)
	setRefreshLua    = redis.NewScript(setRefreshScript)
	rotateRefreshLua = redis.NewScript(rotateRefreshScript)
)

type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore uses prefix to namespace every key, e.g. "authgate:".
func NewRedisStore(client *redis.Client, prefix string) *RedisStore {
	return &RedisStore{client: client, prefix: prefix}
}

// NewRedisClient connects to addr and pings it before returning.
func NewRedisClient(ctx context.Context, addr string) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}
	return client, nil
}

func (s *RedisStore) userKey(email string) string    { return s.prefix + userKeyPart + email }
func (s *RedisStore) refreshKey(token string) string { return s.prefix + refreshKeyPart + token }
func (s *RedisStore) usersKey() string               { return s.prefix + usersKeyPart }

// Create stores a new record. Any RefreshToken on c is ignored; tokens are
// bound through UpdateRefreshToken.
func (s *RedisStore) Create(ctx context.Context, c *Credential) error {
	created, err := createLua.Run(ctx, s.client,
		[]string{s.userKey(c.Email), s.usersKey()},
		c.ID.String(), c.Name, c.Email, c.PasswordHash,
		formatTime(c.CreatedAt), formatTime(c.UpdatedAt),
	).Int64()
	if err != nil {
		return err
	}
	if created == 0 {
		return ErrEmailExists
	}
	return nil
}

func (s *RedisStore) FindByEmail(ctx context.Context, email string) (*Credential, error) {
	fields, err := s.client.HGetAll(ctx, s.userKey(email)).Result()
	if err != nil {
		return nil, err
	}
	return parseCredential(fields)
}

func (s *RedisStore) FindByRefreshToken(ctx context.Context, token string) (*Credential, error) {
	if token == "" {
		return nil, ErrNotFound
	}
	email, err := s.client.Get(ctx, s.refreshKey(token)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	c, err := s.FindByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	if c.RefreshToken != token {
		return nil, ErrNotFound
	}
	return c, nil
}

func (s *RedisStore) UpdateRefreshToken(ctx context.Context, email, token string) error {
	updated, err := setRefreshLua.Run(ctx, s.client,
		[]string{s.userKey(email)},
		token, formatTime(time.Now()), s.prefix+refreshKeyPart,
	).Int64()
	if err != nil {
		return err
	}
	if updated == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *RedisStore) RotateRefreshToken(ctx context.Context, current, next string) (*Credential, error) {
	if current == "" || next == "" {
		return nil, ErrNotFound
	}
	return s.swap(ctx, current, next)
}

func (s *RedisStore) ClearRefreshToken(ctx context.Context, token string) (*Credential, error) {
	if token == "" {
		return nil, ErrNotFound
	}
	return s.swap(ctx, token, "")
}

func (s *RedisStore) swap(ctx context.Context, current, next string) (*Credential, error) {
	email, err := rotateRefreshLua.Run(ctx, s.client,
		[]string{s.refreshKey(current)},
		current, next, formatTime(time.Now()), s.prefix+userKeyPart, s.prefix+refreshKeyPart,
	).Text()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return s.FindByEmail(ctx, email)
}

func (s *RedisStore) List(ctx context.Context) ([]*Credential, error) {
	emails, err := s.client.SMembers(ctx, s.usersKey()).Result()
	if err != nil {
		return nil, err
	}

	pipe := s.client.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(emails))
	for i, email := range emails {
		cmds[i] = pipe.HGetAll(ctx, s.userKey(email))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, err
	}

	res := make([]*Credential, 0, len(cmds))
	for _, cmd := range cmds {
		c, err := parseCredential(cmd.Val())
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		res = append(res, c)
	}
	sort.Slice(res, func(i, j int) bool { return res[i].CreatedAt.Before(res[j].CreatedAt) })
	return res, nil
}

func parseCredential(fields map[string]string) (*Credential, error) {
	if len(fields) == 0 {
		return nil, ErrNotFound
	}
	id, err := uuid.Parse(fields["id"])
	if err != nil {
		return nil, fmt.Errorf("corrupt credential record: %w", err)
	}
	createdAt, err := time.Parse(time.RFC3339Nano, fields["created_at"])
	if err != nil {
		return nil, fmt.Errorf("corrupt credential record: %w", err)
	}
	updatedAt, err := time.Parse(time.RFC3339Nano, fields["updated_at"])
	if err != nil {
		return nil, fmt.Errorf("corrupt credential record: %w", err)
	}
	return &Credential{
		ID:           id,
		Name:         fields["name"],
		Email:        fields["email"],
		PasswordHash: fields["password_hash"],
		RefreshToken: fields["refresh_token"],
		CreatedAt:    createdAt,
		UpdatedAt:    updatedAt,
	}, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}
