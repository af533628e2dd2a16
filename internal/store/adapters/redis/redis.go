// Package redis implements the GrantStore on Redis.
//
// Layout:
//   - grant:<type>:<hash> holds the JSON entry with a native TTL.
//   - grant:index is a set of every live storage key, kept so RemoveAll and
//     SweepExpired can enumerate without KEYS/SCAN over the whole keyspace.
//
// MarkConsumed runs as a Lua script so the consumed check and the write happen
// atomically inside Redis; exactly one concurrent caller gets the slot.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	rdb "github.com/redis/go-redis/v9"

	"github.com/dropDatabas3/grantd/internal/store/core"
)

const indexKey = "grant:index"

// consumeScript: KEYS[1]=entry key, ARGV[1]=RFC3339 consumed time.
// Returns 1 on success, 0 if already consumed, -1 if missing.
var consumeScript = rdb.NewScript(`
local v = redis.call('GET', KEYS[1])
if not v then return -1 end
local ok, e = pcall(cjson.decode, v)
if not ok then return -1 end
if e['consumed_time'] then return 0 end
e['consumed_time'] = ARGV[1]
redis.call('SET', KEYS[1], cjson.encode(e), 'KEEPTTL')
return 1
`)

type Store struct {
	c      *rdb.Client
	prefix string
}

func New(addr, password string, db int) (*Store, error) {
	c := rdb.NewClient(&rdb.Options{Addr: addr, Password: password, DB: db})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &Store{c: c}, nil
}

func (s *Store) key(typ core.GrantType, hashedKey string) string {
	return "grant:" + string(typ) + ":" + hashedKey
}

func (s *Store) Store(ctx context.Context, e *core.GrantEntry) error {
	b, err := json.Marshal(e)
	if err != nil {
		return err
	}
	k := s.key(e.Type, e.Key)
	ttl := time.Until(e.Expiration)
	if ttl <= 0 {
		return core.ErrConflict
	}
	ok, err := s.c.SetNX(ctx, k, b, ttl).Result()
	if err != nil {
		return wrapUnavailable(err)
	}
	if !ok {
		return core.ErrConflict
	}
	if err := s.c.SAdd(ctx, indexKey, k).Err(); err != nil {
		return wrapUnavailable(err)
	}
	return nil
}

func (s *Store) GetByKey(ctx context.Context, typ core.GrantType, hashedKey string) (*core.GrantEntry, error) {
	b, err := s.c.Get(ctx, s.key(typ, hashedKey)).Bytes()
	if err == rdb.Nil {
		return nil, core.ErrNotFound
	}
	if err != nil {
		return nil, wrapUnavailable(err)
	}
	var e core.GrantEntry
	if err := json.Unmarshal(b, &e); err != nil {
		// Payload ilegible: se trata como inexistente; el sweep lo purga.
		return nil, core.ErrNotFound
	}
	return &e, nil
}

func (s *Store) MarkConsumed(ctx context.Context, typ core.GrantType, hashedKey string, at time.Time) error {
	res, err := consumeScript.Run(ctx, s.c, []string{s.key(typ, hashedKey)}, at.UTC().Format(time.RFC3339Nano)).Int()
	if err != nil {
		return wrapUnavailable(err)
	}
	switch res {
	case 1:
		return nil
	case 0:
		return core.ErrAlreadyConsumed
	default:
		return core.ErrNotFound
	}
}

func (s *Store) RemoveByKey(ctx context.Context, typ core.GrantType, hashedKey string) error {
	k := s.key(typ, hashedKey)
	if err := s.c.Del(ctx, k).Err(); err != nil {
		return wrapUnavailable(err)
	}
	return wrapUnavailable(s.c.SRem(ctx, indexKey, k).Err())
}

func (s *Store) RemoveAll(ctx context.Context, f core.Filter) (int, error) {
	members, err := s.c.SMembers(ctx, indexKey).Result()
	if err != nil {
		return 0, wrapUnavailable(err)
	}
	n := 0
	for _, k := range members {
		b, err := s.c.Get(ctx, k).Bytes()
		if err == rdb.Nil {
			// Expiró de forma nativa; limpiar el índice.
			_ = s.c.SRem(ctx, indexKey, k).Err()
			continue
		}
		if err != nil {
			return n, wrapUnavailable(err)
		}
		var e core.GrantEntry
		if err := json.Unmarshal(b, &e); err != nil {
			continue // lo purga el sweep
		}
		if !f.Matches(&e) {
			continue
		}
		if err := s.c.Del(ctx, k).Err(); err != nil {
			return n, wrapUnavailable(err)
		}
		_ = s.c.SRem(ctx, indexKey, k).Err()
		n++
	}
	return n, nil
}

// SweepExpired enumera el índice y borra lo vencido. Redis ya expira las claves
// por TTL; aquí se reconcilia el índice y se purgan payloads ilegibles, que se
// tratan como máximamente viejos (fail-safe hacia purgar, no hacia conservar).
func (s *Store) SweepExpired(ctx context.Context, now time.Time) (int, error) {
	members, err := s.c.SMembers(ctx, indexKey).Result()
	if err != nil {
		return 0, wrapUnavailable(err)
	}
	n := 0
	for _, k := range members {
		b, err := s.c.Get(ctx, k).Bytes()
		if err == rdb.Nil {
			if removed, _ := s.c.SRem(ctx, indexKey, k).Result(); removed > 0 {
				n++
			}
			continue
		}
		if err != nil {
			return n, wrapUnavailable(err)
		}
		var e core.GrantEntry
		if err := json.Unmarshal(b, &e); err == nil && !e.Expired(now) {
			continue
		}
		if err := s.c.Del(ctx, k).Err(); err != nil {
			return n, wrapUnavailable(err)
		}
		_ = s.c.SRem(ctx, indexKey, k).Err()
		n++
	}
	return n, nil
}

func wrapUnavailable(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %v", core.ErrUnavailable, err)
}
