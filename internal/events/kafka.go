package events

import (
	"context"
	"errors"
	"fmt"

	"github.com/twmb/franz-go/pkg/kgo"

	xerrors "PoE-Chain/internal/errors"
)

// KafkaConfig 描述 Kafka 发布参数。
type KafkaConfig struct {
	Brokers  []string
	Topic    string
	ClientID string
}

// KafkaPublisher 使用 franz-go 同步写入 Kafka，消息键为指纹，保证同一存证的事件有序。
type KafkaPublisher struct {
	client *kgo.Client
	topic  string
}

// NewKafkaPublisher 创建 Kafka 发布器。
func NewKafkaPublisher(cfg KafkaConfig) (*KafkaPublisher, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("Kafka brokers 不能为空")
	}
	topic := cfg.Topic
	if topic == "" {
		topic = "poe.events"
	}
	clientID := cfg.ClientID
	if clientID == "" {
		clientID = "poed"
	}
	client, err := kgo.NewClient(
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.ClientID(clientID),
		kgo.DefaultProduceTopic(topic),
		kgo.RequiredAcks(kgo.AllISRAcks()),
	)
	if err != nil {
		return nil, fmt.Errorf("创建 Kafka 客户端失败: %w", err)
	}
	return &KafkaPublisher{client: client, topic: topic}, nil
}

// Name 实现 Publisher。
func (p *KafkaPublisher) Name() string { return "kafka" }

// Publish 实现 Publisher。
func (p *KafkaPublisher) Publish(ctx context.Context, env Envelope) error {
	record, err := kafkaRecord(p.topic, env)
	if err != nil {
		return err
	}
	if err := p.client.ProduceSync(ctx, record).FirstErr(); err != nil {
		return xerrors.Wrap(xerrors.CodePublishFailure, err, "Kafka 发布事件失败")
	}
	return nil
}

func kafkaRecord(topic string, env Envelope) (*kgo.Record, error) {
	payload, err := env.Marshal()
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodePublishFailure, err, "编码事件失败")
	}
	return &kgo.Record{
		Topic: topic,
		Key:   []byte(env.Claim),
		Value: payload,
		Headers: []kgo.RecordHeader{
			{Key: "type", Value: []byte(env.Type)},
			{Key: "id", Value: []byte(env.ID)},
		},
		Timestamp: env.EmittedAt,
	}, nil
}

// Close 关闭 Kafka 客户端。
func (p *KafkaPublisher) Close() error {
	if p == nil || p.client == nil {
		return nil
	}
	p.client.Close()
	return nil
}
