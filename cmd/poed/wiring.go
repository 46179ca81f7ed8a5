package main

import (
	"context"
	"fmt"
	"log/slog"

	"PoE-Chain/internal/claim"
	"PoE-Chain/internal/clock"
	"PoE-Chain/internal/config"
	"PoE-Chain/internal/events"
	"PoE-Chain/internal/storage/cache"
	"PoE-Chain/internal/storage/leveldb"
	"PoE-Chain/internal/storage/mysql"
	"PoE-Chain/internal/storage/redis"
	"PoE-Chain/internal/web3/ethereum"
	"PoE-Chain/pkg/logger"
)

// openClaimStore 根据配置选择存证存储，并按需套上读缓存。
func openClaimStore(ctx context.Context, cfg *config.Config) (claim.Store, error) {
	storeCfg := cfg.Storage.ClaimStore

	var (
		store claim.Store
		err   error
	)
	switch storeCfg.Driver {
	case config.DriverMemory:
		store = claim.NewMemoryStore()
	case config.DriverMySQL:
		store, err = mysql.NewClaimStore(ctx, mysql.Config{
			DSN:             storeCfg.DSN,
			MaxOpenConns:    storeCfg.MaxOpenConns,
			MaxIdleConns:    storeCfg.MaxIdleConns,
			ConnMaxLifetime: storeCfg.ConnMaxLifetime,
		})
	case config.DriverRedis:
		store, err = redis.NewClaimStore(ctx, redis.Config{
			Address:   storeCfg.Redis.Address,
			Password:  storeCfg.Redis.Password,
			DB:        storeCfg.Redis.DB,
			KeyPrefix: storeCfg.Redis.KeyPrefix,
		})
	case config.DriverLevelDB:
		store, err = leveldb.Open(storeCfg.LevelDB.Path)
	default:
		return nil, fmt.Errorf("未知的存储驱动: %s", storeCfg.Driver)
	}
	if err != nil {
		return nil, err
	}

	if cfg.Registry.Cache.Enabled {
		store = cache.New(store, cfg.Registry.Cache.TTL)
	}
	return store, nil
}

// openClock 根据配置选择逻辑时钟，返回的关闭函数总是非空。
func openClock(ctx context.Context, cfg *config.Config) (claim.LogicalClock, func(), error) {
	switch cfg.Clock.Driver {
	case config.DriverCounter:
		return clock.NewCounter(cfg.Clock.Start), func() {}, nil
	case config.DriverEthereum:
		eth := cfg.Clock.Ethereum
		bc, err := ethereum.DialBlockClock(ctx, ethereum.Config{
			Name:          eth.Name,
			RPCURL:        eth.RPCURL,
			ChainID:       eth.ChainID,
			Confirmations: eth.Confirmations,
		})
		if err != nil {
			return nil, nil, err
		}
		return bc, bc.Close, nil
	default:
		return nil, nil, fmt.Errorf("未知的时钟驱动: %s", cfg.Clock.Driver)
	}
}

// openPublishers 按配置顺序创建事件投递目标，任一失败时关闭已创建的目标。
func openPublishers(ctx context.Context, cfg *config.Config) ([]events.Publisher, error) {
	var publishers []events.Publisher
	closeAll := func() {
		for _, p := range publishers {
			if err := p.Close(); err != nil {
				logger.L().Warn("关闭事件目标失败", slog.String("sink", p.Name()), slog.String("error", err.Error()))
			}
		}
	}

	for _, sink := range cfg.Events.Sinks {
		var (
			p   events.Publisher
			err error
		)
		switch sink {
		case config.SinkLog:
			p = events.NewLogPublisher(logger.Named("events"))
		case config.SinkRedis:
			rc := cfg.Events.Redis
			p, err = events.NewRedisPublisher(ctx, events.RedisConfig{
				Address:  rc.Address,
				Password: rc.Password,
				DB:       rc.DB,
				Stream:   rc.Stream,
				MaxLen:   rc.MaxLen,
			})
		case config.SinkRabbitMQ:
			mq := cfg.Events.RabbitMQ
			p, err = events.NewRabbitMQPublisher(events.RabbitMQConfig{
				URL:        mq.URL,
				Exchange:   mq.Exchange,
				Queue:      mq.Queue,
				RoutingKey: mq.RoutingKey,
				Durable:    mq.Durable,
			})
		case config.SinkKafka:
			kc := cfg.Events.Kafka
			p, err = events.NewKafkaPublisher(events.KafkaConfig{
				Brokers:  kc.Brokers,
				Topic:    kc.Topic,
				ClientID: kc.ClientID,
			})
		default:
			err = fmt.Errorf("未知的事件目标: %s", sink)
		}
		if err != nil {
			closeAll()
			return nil, err
		}
		publishers = append(publishers, p)
	}
	return publishers, nil
}
