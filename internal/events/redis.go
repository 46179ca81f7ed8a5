package events

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	xerrors "PoE-Chain/internal/errors"
)

// RedisConfig 描述 Redis Stream 发布参数。
type RedisConfig struct {
	Address  string
	Password string
	DB       int
	Stream   string
	MaxLen   int64
}

// RedisPublisher 使用 XADD 将事件追加到 Redis Stream。
type RedisPublisher struct {
	client *redis.Client
	stream string
	maxLen int64
	owned  bool
}

// NewRedisPublisher 创建 Redis 发布器并检查连通性。
func NewRedisPublisher(ctx context.Context, cfg RedisConfig) (*RedisPublisher, error) {
	if cfg.Address == "" {
		return nil, errors.New("Redis address 不能为空")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("连接 Redis 失败: %w", err)
	}
	p := NewRedisPublisherFromClient(client, cfg.Stream, cfg.MaxLen)
	p.owned = true
	return p, nil
}

// NewRedisPublisherFromClient 复用已有的 Redis 客户端。
func NewRedisPublisherFromClient(client *redis.Client, stream string, maxLen int64) *RedisPublisher {
	if stream == "" {
		stream = "poe:events"
	}
	return &RedisPublisher{client: client, stream: stream, maxLen: maxLen}
}

// Name 实现 Publisher。
func (p *RedisPublisher) Name() string { return "redis" }

// Publish 实现 Publisher。
func (p *RedisPublisher) Publish(ctx context.Context, env Envelope) error {
	payload, err := env.Marshal()
	if err != nil {
		return xerrors.Wrap(xerrors.CodePublishFailure, err, "编码事件失败")
	}
	args := &redis.XAddArgs{
		Stream: p.stream,
		Values: map[string]any{
			"id":      env.ID,
			"type":    string(env.Type),
			"claim":   env.Claim,
			"payload": string(payload),
		},
	}
	if p.maxLen > 0 {
		args.MaxLen = p.maxLen
		args.Approx = true
	}
	if err := p.client.XAdd(ctx, args).Err(); err != nil {
		return xerrors.Wrap(xerrors.CodePublishFailure, err, "Redis 发布事件失败")
	}
	return nil
}

// Close 关闭自行创建的 Redis 连接。
func (p *RedisPublisher) Close() error {
	if p == nil || p.client == nil || !p.owned {
		return nil
	}
	return p.client.Close()
}
