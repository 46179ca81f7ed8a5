package events

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"PoE-Chain/internal/claim"
	"PoE-Chain/pkg/logger"
)

const (
	defaultBufferSize     = 1024
	defaultWorkers        = 1
	defaultPublishTimeout = 5 * time.Second
)

// Metrics 记录事件投递结果。
type Metrics interface {
	ObservePublish(sink string, err error)
	ObserveDropped(eventType claim.EventType)
}

// Dispatcher 实现 claim.EventSink：Emit 只负责入队，后台协程将事件广播给所有发布器。
// 投递失败只记录日志与指标，不会重试，也不会影响已经提交的状态变更。
type Dispatcher struct {
	publishers []Publisher
	buffer     chan Envelope
	workers    int
	timeout    time.Duration
	metrics    Metrics
	logger     *slog.Logger
	now        func() time.Time

	mu        sync.RWMutex
	closed    bool
	startOnce sync.Once
	wg        sync.WaitGroup
}

var _ claim.EventSink = (*Dispatcher)(nil)

// DispatcherOption 定义 Dispatcher 的可选配置。
type DispatcherOption func(*Dispatcher)

// WithBufferSize 设置事件缓冲区大小。
func WithBufferSize(size int) DispatcherOption {
	return func(d *Dispatcher) {
		if size > 0 {
			d.buffer = make(chan Envelope, size)
		}
	}
}

// WithWorkers 设置并发投递协程数量。多于一个协程时不同事件之间不保证顺序。
func WithWorkers(n int) DispatcherOption {
	return func(d *Dispatcher) {
		if n > 0 {
			d.workers = n
		}
	}
}

// WithPublishTimeout 设置单次发布的超时时间。
func WithPublishTimeout(timeout time.Duration) DispatcherOption {
	return func(d *Dispatcher) {
		if timeout > 0 {
			d.timeout = timeout
		}
	}
}

// WithMetrics 设置指标记录器。
func WithMetrics(m Metrics) DispatcherOption {
	return func(d *Dispatcher) {
		d.metrics = m
	}
}

// WithLogger 设置日志记录器。
func WithLogger(l *slog.Logger) DispatcherOption {
	return func(d *Dispatcher) {
		if l != nil {
			d.logger = l
		}
	}
}

// NewDispatcher 创建事件分发器。
func NewDispatcher(publishers []Publisher, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		buffer:  make(chan Envelope, defaultBufferSize),
		workers: defaultWorkers,
		timeout: defaultPublishTimeout,
		logger:  logger.Named("events"),
		now:     time.Now,
	}
	for _, p := range publishers {
		if p != nil {
			d.publishers = append(d.publishers, p)
		}
	}
	for _, opt := range opts {
		if opt != nil {
			opt(d)
		}
	}
	return d
}

// Emit 实现 claim.EventSink。缓冲区已满或分发器已关闭时丢弃事件。
func (d *Dispatcher) Emit(_ context.Context, event claim.Event) {
	env := FromEvent(event, d.now())

	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		d.drop(env, "dispatcher closed")
		return
	}
	select {
	case d.buffer <- env:
	default:
		d.drop(env, "buffer full")
	}
}

func (d *Dispatcher) drop(env Envelope, reason string) {
	d.logger.Warn("事件被丢弃",
		slog.String("reason", reason),
		slog.String("type", string(env.Type)),
		slog.String("claim", env.Claim),
	)
	if d.metrics != nil {
		d.metrics.ObserveDropped(env.Type)
	}
}

// Start 启动后台投递协程，重复调用无效。
func (d *Dispatcher) Start() {
	d.startOnce.Do(func() {
		for i := 0; i < d.workers; i++ {
			d.wg.Add(1)
			go d.run()
		}
	})
}

func (d *Dispatcher) run() {
	defer d.wg.Done()
	for env := range d.buffer {
		d.publish(env)
	}
}

func (d *Dispatcher) publish(env Envelope) {
	for _, p := range d.publishers {
		ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
		err := p.Publish(ctx, env)
		cancel()
		if d.metrics != nil {
			d.metrics.ObservePublish(p.Name(), err)
		}
		if err != nil {
			d.logger.Error("事件发布失败",
				slog.String("sink", p.Name()),
				slog.String("id", env.ID),
				slog.String("type", string(env.Type)),
				slog.String("claim", env.Claim),
				slog.String("error", err.Error()),
			)
		}
	}
}

// Close 停止接收新事件，等待缓冲区中的事件投递完毕后关闭所有发布器。
func (d *Dispatcher) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	close(d.buffer)
	d.mu.Unlock()

	// 未启动时同步清空缓冲区。
	d.startOnce.Do(func() {
		for env := range d.buffer {
			d.publish(env)
		}
	})
	d.wg.Wait()

	var err error
	for _, p := range d.publishers {
		err = errors.Join(err, p.Close())
	}
	return err
}
