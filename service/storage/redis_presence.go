package storage

import (
	"context"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

// Presence mirror layout, per user:
//
//	famly:presence:{<user>}:nodes  hash nodeId -> unix ms of the last write
//	famly:presence:{<user>}:seen   unix ms of the last ping
//
// Both keys share a hash tag so the scripts stay single-slot on a cluster.
// The hash carries a TTL; a node that dies without cleaning up ages out.
const keyPrefix = "famly:presence:"

func nodesKey(user string) string { return keyPrefix + "{" + user + "}:nodes" }
func seenKey(user string) string  { return keyPrefix + "{" + user + "}:seen" }

// KEYS[1] = nodes hash, ARGV[1] = node, ARGV[2] = now ms, ARGV[3] = ttl ms
var luaOnline = redis.NewScript(`
redis.call('HSET', KEYS[1], ARGV[1], ARGV[2])
redis.call('PEXPIRE', KEYS[1], ARGV[3])
return redis.call('HLEN', KEYS[1])
`)

// KEYS[1] = nodes hash, KEYS[2] = seen key, ARGV[1] = node, ARGV[2] = now ms, ARGV[3] = ttl ms
// Returns the number of nodes still holding the user online.
var luaOffline = redis.NewScript(`
redis.call('HDEL', KEYS[1], ARGV[1])
redis.call('SET', KEYS[2], ARGV[2])
local n = redis.call('HLEN', KEYS[1])
if n == 0 then
  redis.call('DEL', KEYS[1])
else
  redis.call('PEXPIRE', KEYS[1], ARGV[3])
end
return n
`)

// RedisPresence mirrors this node's presence view into Redis so other
// services can ask whether a user is online anywhere.
type RedisPresence struct {
	rdb    redis.UniversalClient
	nodeID string
	ttl    time.Duration
	now    func() time.Time
}

func NewRedisPresence(rdb redis.UniversalClient, nodeID string, ttl time.Duration) *RedisPresence {
	if ttl <= 0 {
		ttl = 90 * time.Second
	}
	return &RedisPresence{rdb: rdb, nodeID: nodeID, ttl: ttl, now: time.Now}
}

func (p *RedisPresence) SetOnline(ctx context.Context, userID string) error {
	err := luaOnline.Run(ctx, p.rdb, []string{nodesKey(userID)},
		p.nodeID, p.now().UnixMilli(), p.ttl.Milliseconds()).Err()
	return errors.Wrapf(err, "presence online %s", userID)
}

func (p *RedisPresence) SetOffline(ctx context.Context, userID string) error {
	err := luaOffline.Run(ctx, p.rdb, []string{nodesKey(userID), seenKey(userID)},
		p.nodeID, p.now().UnixMilli(), p.ttl.Milliseconds()).Err()
	return errors.Wrapf(err, "presence offline %s", userID)
}

// Touch records a ping and renews this node's entry if it holds one.
func (p *RedisPresence) Touch(ctx context.Context, userID string, at time.Time) error {
	ms := at.UnixMilli()
	_, err := p.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, seenKey(userID), ms, 0)
		pipe.PExpire(ctx, nodesKey(userID), p.ttl)
		return nil
	})
	return errors.Wrapf(err, "presence touch %s", userID)
}

// Online reports whether any node currently holds userID online.
func (p *RedisPresence) Online(ctx context.Context, userID string) (bool, error) {
	n, err := p.rdb.HLen(ctx, nodesKey(userID)).Result()
	if err != nil {
		return false, errors.Wrapf(err, "presence lookup %s", userID)
	}
	return n > 0, nil
}

// LastSeen returns the last recorded ping or disconnect; ok is false when
// nothing was ever recorded.
func (p *RedisPresence) LastSeen(ctx context.Context, userID string) (at time.Time, ok bool, err error) {
	v, err := p.rdb.Get(ctx, seenKey(userID)).Result()
	if errors.Is(err, redis.Nil) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, errors.Wrapf(err, "presence last seen %s", userID)
	}
	ms, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return time.Time{}, false, errors.Wrapf(err, "presence last seen %s", userID)
	}
	return time.UnixMilli(ms), true, nil
}
