package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// errUndecodable marks a stored job body that is not valid job JSON.
var errUndecodable = errors.New("undecodable job")

// claimScript atomically requeues expired leases, then moves the oldest due
// job from the scheduled set to the processing set with a lease deadline.
//
// KEYS[1] scheduled zset, KEYS[2] processing zset
// ARGV[1] now (unix ms), ARGV[2] lease deadline (unix ms)
var claimScript = redis.NewScript(`
local expired = redis.call('ZRANGEBYSCORE', KEYS[2], '-inf', ARGV[1], 'LIMIT', 0, 16)
for _, id in ipairs(expired) do
  redis.call('ZREM', KEYS[2], id)
  redis.call('ZADD', KEYS[1], ARGV[1], id)
end
local ids = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, 1)
if #ids == 0 then
  return false
end
redis.call('ZREM', KEYS[1], ids[1])
redis.call('ZADD', KEYS[2], ARGV[2], ids[1])
return ids[1]
`)

// RedisStore keeps jobs in Redis:
//
//	{prefix}:job:{id}    job JSON
//	{prefix}:scheduled   zset of ids scored by run_at (ms)
//	{prefix}:processing  zset of ids scored by lease deadline (ms)
//	{prefix}:dead        list of buried ids
type RedisStore struct {
	rdb        redis.UniversalClient
	prefix     string
	visibility time.Duration
}

// NewRedisStore returns a store on rdb. An empty prefix defaults to "queue".
func NewRedisStore(rdb redis.UniversalClient, prefix string, visibility time.Duration) *RedisStore {
	prefix = strings.TrimSuffix(strings.TrimSpace(prefix), ":")
	if prefix == "" {
		prefix = "queue"
	}
	if visibility <= 0 {
		visibility = 10 * time.Minute
	}
	return &RedisStore{rdb: rdb, prefix: prefix, visibility: visibility}
}

func (s *RedisStore) jobKey(id string) string { return s.prefix + ":job:" + id }
func (s *RedisStore) scheduledKey() string    { return s.prefix + ":scheduled" }
func (s *RedisStore) processingKey() string   { return s.prefix + ":processing" }
func (s *RedisStore) deadKey() string         { return s.prefix + ":dead" }

// Push implements Store.
func (s *RedisStore) Push(ctx context.Context, j *Job) error {
	raw, err := json.Marshal(j)
	if err != nil {
		return err
	}
	_, err = s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.jobKey(j.ID), raw, 0)
		pipe.ZAdd(ctx, s.scheduledKey(), redis.Z{Score: float64(j.RunAt.UnixMilli()), Member: j.ID})
		return nil
	})
	return err
}

// Claim implements Store.
func (s *RedisStore) Claim(ctx context.Context, now time.Time) (*Job, error) {
	for {
		id, err := claimScript.Run(ctx, s.rdb,
			[]string{s.scheduledKey(), s.processingKey()},
			now.UnixMilli(), now.Add(s.visibility).UnixMilli(),
		).Text()
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		if err != nil {
			return nil, fmt.Errorf("claim: %w", err)
		}

		j, err := s.load(ctx, id)
		if errors.Is(err, redis.Nil) {
			// Orphaned id without a body; drop it and look again.
			s.rdb.ZRem(ctx, s.processingKey(), id)
			continue
		}
		if errors.Is(err, errUndecodable) {
			// It would fail the same way on every lease; park it with the dead.
			log.Warn().Err(err).Str("job_id", id).Msg("queue: burying undecodable job")
			if err := s.buryID(ctx, id); err != nil {
				return nil, err
			}
			continue
		}
		if err != nil {
			return nil, err
		}

		// A lease that expired on the last attempt is not run again.
		if j.Attempts >= j.MaxAttempts {
			j.LastError = "lock expired"
			if err := s.Bury(ctx, j, errors.New(j.LastError)); err != nil {
				return nil, err
			}
			continue
		}

		j.Attempts++
		if err := s.save(ctx, j); err != nil {
			return nil, err
		}
		return j, nil
	}
}

// Ack implements Store.
func (s *RedisStore) Ack(ctx context.Context, j *Job) error {
	_, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZRem(ctx, s.processingKey(), j.ID)
		pipe.Del(ctx, s.jobKey(j.ID))
		return nil
	})
	return err
}

// Retry implements Store.
func (s *RedisStore) Retry(ctx context.Context, j *Job, runAt time.Time, cause error) error {
	j.LastError = errText(cause)
	j.RunAt = runAt
	raw, err := json.Marshal(j)
	if err != nil {
		return err
	}
	_, err = s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.jobKey(j.ID), raw, 0)
		pipe.ZRem(ctx, s.processingKey(), j.ID)
		pipe.ZAdd(ctx, s.scheduledKey(), redis.Z{Score: float64(runAt.UnixMilli()), Member: j.ID})
		return nil
	})
	return err
}

// Bury implements Store.
func (s *RedisStore) Bury(ctx context.Context, j *Job, cause error) error {
	j.LastError = errText(cause)
	raw, err := json.Marshal(j)
	if err != nil {
		return err
	}
	_, err = s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.jobKey(j.ID), raw, 0)
		pipe.ZRem(ctx, s.processingKey(), j.ID)
		pipe.LPush(ctx, s.deadKey(), j.ID)
		return nil
	})
	return err
}

// buryID moves id from the processing set to the dead list, leaving its body
// in place.
func (s *RedisStore) buryID(ctx context.Context, id string) error {
	_, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZRem(ctx, s.processingKey(), id)
		pipe.LPush(ctx, s.deadKey(), id)
		return nil
	})
	return err
}

// Depth implements Depther. Scheduled jobs count as queued, leased ones as
// running.
func (s *RedisStore) Depth(ctx context.Context) (map[string]int64, error) {
	var queued, running, dead *redis.IntCmd
	_, err := s.rdb.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		queued = pipe.ZCard(ctx, s.scheduledKey())
		running = pipe.ZCard(ctx, s.processingKey())
		dead = pipe.LLen(ctx, s.deadKey())
		return nil
	})
	if err != nil {
		return nil, err
	}
	return map[string]int64{
		"queued":  queued.Val(),
		"running": running.Val(),
		"dead":    dead.Val(),
	}, nil
}

func (s *RedisStore) load(ctx context.Context, id string) (*Job, error) {
	raw, err := s.rdb.Get(ctx, s.jobKey(id)).Bytes()
	if err != nil {
		return nil, err
	}
	var j Job
	if err := json.Unmarshal(raw, &j); err != nil {
		return nil, fmt.Errorf("%w %s: %v", errUndecodable, id, err)
	}
	return &j, nil
}

func (s *RedisStore) save(ctx context.Context, j *Job) error {
	raw, err := json.Marshal(j)
	if err != nil {
		return err
	}
	return s.rdb.Set(ctx, s.jobKey(j.ID), raw, 0).Err()
}

var (
	_ Store   = (*RedisStore)(nil)
	_ Depther = (*RedisStore)(nil)
)
