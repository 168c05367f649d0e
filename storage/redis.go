package storage

import (
	"context"
	"encoding/json"
	"fmt"

	"warden/core"
	"warden/metrics"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// DefaultFindingsKey is the list findings are appended to
const DefaultFindingsKey = "warden:findings"

// DefaultMaxFindings caps the findings list
const DefaultMaxFindings = 10000

// RedisPublisher appends findings to a capped Redis list and announces them on
// a channel named after the list.
type RedisPublisher struct {
	client  *redis.Client
	key     string
	channel string
	maxLen  int64
	logger  *zap.SugaredLogger
}

// RedisOptions configures a RedisPublisher
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
	Key      string
	MaxLen   int64
}

// NewRedisPublisher creates a publisher. It does not dial until first use.
func NewRedisPublisher(opts RedisOptions, logger *zap.SugaredLogger) *RedisPublisher {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	if opts.Key == "" {
		opts.Key = DefaultFindingsKey
	}
	if opts.MaxLen <= 0 {
		opts.MaxLen = DefaultMaxFindings
	}
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	return &RedisPublisher{
		client:  client,
		key:     opts.Key,
		channel: opts.Key + ":live",
		maxLen:  opts.MaxLen,
		logger:  logger,
	}
}

// Ping tests the Redis connection
func (p *RedisPublisher) Ping(ctx context.Context) error {
	return p.client.Ping(ctx).Err()
}

// Close closes the Redis connection
func (p *RedisPublisher) Close() error {
	return p.client.Close()
}

// Channel returns the pub/sub channel findings are announced on
func (p *RedisPublisher) Channel() string {
	return p.channel
}

// Publish appends findings in order, trims the list and announces each one
func (p *RedisPublisher) Publish(ctx context.Context, findings []core.Finding) error {
	if len(findings) == 0 {
		return nil
	}

	values := make([]interface{}, 0, len(findings))
	for _, f := range findings {
		data, err := json.Marshal(f)
		if err != nil {
			return fmt.Errorf("failed to encode finding: %w", err)
		}
		values = append(values, data)
	}

	pipe := p.client.TxPipeline()
	pipe.RPush(ctx, p.key, values...)
	pipe.LTrim(ctx, p.key, -p.maxLen, -1)
	for _, v := range values {
		pipe.Publish(ctx, p.channel, v)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		metrics.PublishFailures.WithLabelValues("redis").Inc()
		return fmt.Errorf("failed to publish %d findings: %w", len(findings), err)
	}

	p.logger.Debugw("Published findings", "key", p.key, "count", len(findings))
	return nil
}

// Recent returns up to n of the newest findings, oldest first
func (p *RedisPublisher) Recent(ctx context.Context, n int64) ([]core.Finding, error) {
	if n <= 0 {
		return nil, nil
	}
	raw, err := p.client.LRange(ctx, p.key, -n, -1).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read findings: %w", err)
	}

	out := make([]core.Finding, 0, len(raw))
	for _, s := range raw {
		var f core.Finding
		if err := json.Unmarshal([]byte(s), &f); err != nil {
			p.logger.Warnf("Skipping undecodable finding in %s: %v", p.key, err)
			continue
		}
		out = append(out, f)
	}
	return out, nil
}
