package backup

import (
	"context"
	"fmt"
	"sort"

	"github.com/bountyboard/bountyd/internal/bounty"
	"github.com/redis/go-redis/v9"
)

type RedisConfig struct {
	// KeyPrefix namespaces every key; defaults to "bounty:".
	KeyPrefix string
}

// RedisQueue stores pending entries in a Redis set per kind plus one hash per
// bounty id. Writes run inside MULTI/EXEC.
type RedisQueue struct {
	rdb redis.UniversalClient

	pendingCreate   string
	pendingComplete string
	prefix          string
}

func NewRedisQueue(rdb redis.UniversalClient, cfg RedisConfig) (*RedisQueue, error) {
	if rdb == nil {
		return nil, fmt.Errorf("%w: nil redis client", ErrInvalidConfig)
	}
	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	return &RedisQueue{
		rdb:             rdb,
		pendingCreate:   prefix + "pending:create",
		pendingComplete: prefix + "pending:complete",
		prefix:          prefix,
	}, nil
}

// Dial parses a redis:// or rediss:// URL and returns a client for it.
func Dial(url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("%w: redis url: %v", ErrInvalidConfig, err)
	}
	return redis.NewClient(opts), nil
}

func (q *RedisQueue) entryKey(member string) string {
	return q.prefix + member
}

func (q *RedisQueue) EnqueueCreation(ctx context.Context, b bounty.Bounty) error {
	member := Member(b.ID)
	return q.write(ctx, "enqueue creation", func(pipe redis.Pipeliner) []redis.Cmder {
		return []redis.Cmder{
			pipe.HSet(ctx, q.entryKey(member), pairs(encodeCreation(b))...),
			pipe.SAdd(ctx, q.pendingCreate, member),
		}
	})
}

func (q *RedisQueue) EnqueueCompletion(ctx context.Context, c bounty.Completion) error {
	member := Member(c.BountyID)
	return q.write(ctx, "enqueue completion", func(pipe redis.Pipeliner) []redis.Cmder {
		return []redis.Cmder{
			pipe.HSet(ctx, q.entryKey(member), pairs(encodeCompletion(c))...),
			pipe.SAdd(ctx, q.pendingComplete, member),
		}
	})
}

func (q *RedisQueue) PendingCreationIDs(ctx context.Context) ([]string, error) {
	return q.members(ctx, q.pendingCreate)
}

func (q *RedisQueue) PendingCompletionIDs(ctx context.Context) ([]string, error) {
	return q.members(ctx, q.pendingComplete)
}

func (q *RedisQueue) LoadCreation(ctx context.Context, id string) (bounty.Bounty, error) {
	m, err := q.rdb.HGetAll(ctx, q.entryKey(id)).Result()
	if err != nil {
		return bounty.Bounty{}, fmt.Errorf("backup: load creation %s: %w", id, err)
	}
	if len(m) == 0 {
		return bounty.Bounty{}, ErrNotFound
	}
	return decodeCreation(m)
}

func (q *RedisQueue) LoadCompletion(ctx context.Context, id string) (bounty.Completion, error) {
	m, err := q.rdb.HGetAll(ctx, q.entryKey(id)).Result()
	if err != nil {
		return bounty.Completion{}, fmt.Errorf("backup: load completion %s: %w", id, err)
	}
	if len(m) == 0 {
		return bounty.Completion{}, ErrNotFound
	}
	return decodeCompletion(m)
}

// ClearCreation drops the creation fields and the pending-set membership.
// Completion fields for the same id are left in place.
func (q *RedisQueue) ClearCreation(ctx context.Context, id string) error {
	return q.write(ctx, "clear creation", func(pipe redis.Pipeliner) []redis.Cmder {
		return []redis.Cmder{
			pipe.HDel(ctx, q.entryKey(id), creationFields...),
			pipe.SRem(ctx, q.pendingCreate, id),
		}
	})
}

func (q *RedisQueue) ClearCompletion(ctx context.Context, id string) error {
	return q.write(ctx, "clear completion", func(pipe redis.Pipeliner) []redis.Cmder {
		return []redis.Cmder{
			pipe.HDel(ctx, q.entryKey(id), completionFields...),
			pipe.SRem(ctx, q.pendingComplete, id),
		}
	})
}

func (q *RedisQueue) write(ctx context.Context, op string, queue func(redis.Pipeliner) []redis.Cmder) error {
	var cmds []redis.Cmder
	_, err := q.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		cmds = queue(pipe)
		return nil
	})
	if err != nil {
		return fmt.Errorf("backup: %s: %w", op, err)
	}
	for _, c := range cmds {
		if err := c.Err(); err != nil {
			return fmt.Errorf("backup: %s: %s: %w", op, c.Name(), err)
		}
	}
	return nil
}

func (q *RedisQueue) members(ctx context.Context, key string) ([]string, error) {
	ids, err := q.rdb.SMembers(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("backup: members %s: %w", key, err)
	}
	sort.Strings(ids)
	return ids, nil
}

func pairs(m map[string]string) []interface{} {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]interface{}, 0, 2*len(keys))
	for _, k := range keys {
		out = append(out, k, m[k])
	}
	return out
}

var _ Queue = (*RedisQueue)(nil)
