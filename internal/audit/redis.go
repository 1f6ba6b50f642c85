package audit

import (
	"context"
	"encoding/json"

	"github.com/go-redis/redis/v8"
)

// DefaultRedisKey is the list audit records are pushed to.
const DefaultRedisKey = "access:audit"

// RedisSink pushes audit records onto a capped Redis list, newest first.
type RedisSink struct {
	client redis.Cmdable
	key    string
	max    int64
}

// NewRedisSink creates a sink keeping at most max records under key.
func NewRedisSink(client redis.Cmdable, key string, max int) *RedisSink {
	if key == "" {
		key = DefaultRedisKey
	}
	if max <= 0 {
		max = DefaultCapacity
	}
	return &RedisSink{client: client, key: key, max: int64(max)}
}

// Write implements Sink.
func (s *RedisSink) Write(ctx context.Context, rec Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LPush(ctx, s.key, data)
		pipe.LTrim(ctx, s.key, 0, s.max-1)
		return nil
	})
	return err
}

// Recent returns up to limit records, newest first.
func (s *RedisSink) Recent(ctx context.Context, limit int) ([]Record, error) {
	if limit <= 0 || int64(limit) > s.max {
		limit = int(s.max)
	}
	raw, err := s.client.LRange(ctx, s.key, 0, int64(limit-1)).Result()
	if err != nil {
		return nil, err
	}
	out := make([]Record, 0, len(raw))
	for _, item := range raw {
		var rec Record
		if err := json.Unmarshal([]byte(item), &rec); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}
