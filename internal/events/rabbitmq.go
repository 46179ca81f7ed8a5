package events

import (
	"context"
	"errors"
	"fmt"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"

	xerrors "PoE-Chain/internal/errors"
)

// RabbitMQConfig 描述 RabbitMQ 发布参数。Exchange 为空时直接投递到 Queue。
type RabbitMQConfig struct {
	URL        string
	Exchange   string
	Queue      string
	RoutingKey string
	Durable    bool
}

// amqpChannel 是发布所需的 channel 能力子集。
type amqpChannel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// RabbitMQPublisher 将事件发布到 RabbitMQ。
type RabbitMQPublisher struct {
	mu         sync.Mutex
	conn       *amqp.Connection
	ch         amqpChannel
	exchange   string
	routingKey string
}

// NewRabbitMQPublisher 连接 RabbitMQ 并声明队列或交换机。
func NewRabbitMQPublisher(cfg RabbitMQConfig) (*RabbitMQPublisher, error) {
	if cfg.URL == "" {
		return nil, errors.New("RabbitMQ URL 不能为空")
	}
	queue := cfg.Queue
	if queue == "" {
		queue = "poe.events"
	}
	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("连接 RabbitMQ 失败: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("创建 RabbitMQ channel 失败: %w", err)
	}

	routingKey := cfg.RoutingKey
	if cfg.Exchange != "" {
		if err := ch.ExchangeDeclare(cfg.Exchange, "topic", cfg.Durable, false, false, false, nil); err != nil {
			ch.Close()
			conn.Close()
			return nil, fmt.Errorf("声明 RabbitMQ 交换机失败: %w", err)
		}
		if routingKey == "" {
			routingKey = "poe.claim"
		}
	} else {
		if _, err := ch.QueueDeclare(queue, cfg.Durable, false, false, false, nil); err != nil {
			ch.Close()
			conn.Close()
			return nil, fmt.Errorf("声明 RabbitMQ 队列失败: %w", err)
		}
		routingKey = queue
	}

	return &RabbitMQPublisher{conn: conn, ch: ch, exchange: cfg.Exchange, routingKey: routingKey}, nil
}

// Name 实现 Publisher。
func (p *RabbitMQPublisher) Name() string { return "rabbitmq" }

// Publish 实现 Publisher。
func (p *RabbitMQPublisher) Publish(ctx context.Context, env Envelope) error {
	payload, err := env.Marshal()
	if err != nil {
		return xerrors.Wrap(xerrors.CodePublishFailure, err, "编码事件失败")
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ch == nil {
		return xerrors.New(xerrors.CodePublishFailure, "RabbitMQ 发布器未初始化")
	}
	if err := p.ch.PublishWithContext(ctx, p.exchange, p.routingKey, false, false, publishing(env, payload)); err != nil {
		return xerrors.Wrap(xerrors.CodePublishFailure, err, "RabbitMQ 发布事件失败")
	}
	return nil
}

func publishing(env Envelope, payload []byte) amqp.Publishing {
	return amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    env.ID,
		Type:         string(env.Type),
		Timestamp:    env.EmittedAt,
		Body:         payload,
	}
}

// Close 关闭 RabbitMQ 连接。
func (p *RabbitMQPublisher) Close() error {
	if p == nil {
		return nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	var err error
	if p.ch != nil {
		err = p.ch.Close()
		p.ch = nil
	}
	if p.conn != nil {
		err = errors.Join(err, p.conn.Close())
		p.conn = nil
	}
	return err
}
