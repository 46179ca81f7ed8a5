package events

import (
	"context"
	"log/slog"
	"sync"

	"PoE-Chain/pkg/logger"
)

// Publisher 负责把事件写入某一个外部系统。
type Publisher interface {
	Name() string
	Publish(ctx context.Context, env Envelope) error
	Close() error
}

// LogPublisher 将事件写入审计日志。
type LogPublisher struct {
	logger *slog.Logger
}

// NewLogPublisher 创建 LogPublisher，l 为空时使用审计日志。
func NewLogPublisher(l *slog.Logger) *LogPublisher {
	if l == nil {
		l = logger.Audit()
	}
	return &LogPublisher{logger: l}
}

// Name 实现 Publisher。
func (p *LogPublisher) Name() string { return "log" }

// Publish 实现 Publisher。
func (p *LogPublisher) Publish(ctx context.Context, env Envelope) error {
	attrs := []slog.Attr{
		slog.String("id", env.ID),
		slog.String("type", string(env.Type)),
		slog.String("claim", env.Claim),
	}
	if env.Owner != "" {
		attrs = append(attrs, slog.String("owner", env.Owner))
	}
	if env.OldOwner != "" {
		attrs = append(attrs, slog.String("old_owner", env.OldOwner), slog.String("new_owner", env.NewOwner))
	}
	p.logger.LogAttrs(ctx, slog.LevelInfo, "claim_event", attrs...)
	return nil
}

// Close 实现 Publisher。
func (p *LogPublisher) Close() error { return nil }

// MemoryPublisher 在内存中保存事件，主要用于测试。
type MemoryPublisher struct {
	mu        sync.Mutex
	envelopes []Envelope
	err       error
}

// NewMemoryPublisher 创建 MemoryPublisher。
func NewMemoryPublisher() *MemoryPublisher {
	return &MemoryPublisher{}
}

// Name 实现 Publisher。
func (p *MemoryPublisher) Name() string { return "memory" }

// FailWith 让后续发布返回 err。
func (p *MemoryPublisher) FailWith(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.err = err
}

// Publish 实现 Publisher。
func (p *MemoryPublisher) Publish(_ context.Context, env Envelope) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.envelopes = append(p.envelopes, env)
	return nil
}

// Envelopes 返回已发布事件的副本。
func (p *MemoryPublisher) Envelopes() []Envelope {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Envelope(nil), p.envelopes...)
}

// Close 实现 Publisher。
func (p *MemoryPublisher) Close() error { return nil }
