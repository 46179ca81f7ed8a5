package redis

import (
	"context"
	stdErrors "errors"
	"strconv"

	"github.com/redis/go-redis/v9"

	"PoE-Chain/internal/claim"
	xerrors "PoE-Chain/internal/errors"
)

const (
	fieldOwner        = "owner"
	fieldRegisteredAt = "registered_at"
	fieldActive       = "active"
)

// Config 描述 Redis 存储的连接参数。
type Config struct {
	Address   string
	Password  string
	DB        int
	KeyPrefix string
}

// ClaimStore 以 hash 形式保存存证记录。
type ClaimStore struct {
	client *redis.Client
	prefix string
}

var _ claim.Store = (*ClaimStore)(nil)

// NewClaimStore 创建 Redis 存储并检查连通性。
func NewClaimStore(ctx context.Context, cfg Config) (*ClaimStore, error) {
	if cfg.Address == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "Redis address 不能为空")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "连接 Redis 失败")
	}
	return NewClaimStoreWithClient(client, cfg.KeyPrefix), nil
}

// NewClaimStoreWithClient 复用已有客户端。
func NewClaimStoreWithClient(client *redis.Client, prefix string) *ClaimStore {
	if prefix == "" {
		prefix = "poe:claim:"
	}
	return &ClaimStore{client: client, prefix: prefix}
}

func (s *ClaimStore) key(fp claim.Fingerprint) string {
	return s.prefix + fp.Hex()
}

// Get 实现 claim.Store。
func (s *ClaimStore) Get(ctx context.Context, fp claim.Fingerprint) (claim.Record, error) {
	return readRecord(ctx, s.client, s.key(fp))
}

// Insert 实现 claim.Store。
func (s *ClaimStore) Insert(ctx context.Context, fp claim.Fingerprint, rec claim.Record) error {
	key := s.key(fp)
	err := s.client.Watch(ctx, func(tx *redis.Tx) error {
		n, err := tx.Exists(ctx, key).Result()
		if err != nil {
			return err
		}
		if n > 0 {
			return claim.ErrRecordExists
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, key, encodeRecord(rec))
			return nil
		})
		return err
	}, key)
	switch {
	case err == nil:
		return nil
	case stdErrors.Is(err, claim.ErrRecordExists), stdErrors.Is(err, redis.TxFailedErr):
		return claim.ErrRecordExists
	default:
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "写入存证失败",
			xerrors.WithMetadata("claim", fp.Hex()))
	}
}

// Swap 实现 claim.Store。
func (s *ClaimStore) Swap(ctx context.Context, fp claim.Fingerprint, prev, next claim.Record) error {
	key := s.key(fp)
	err := s.client.Watch(ctx, func(tx *redis.Tx) error {
		current, err := readRecord(ctx, tx, key)
		if err != nil {
			return err
		}
		if current != prev {
			return claim.ErrRecordStale
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, key, encodeRecord(next))
			return nil
		})
		return err
	}, key)
	switch {
	case err == nil:
		return nil
	case stdErrors.Is(err, claim.ErrRecordNotFound), stdErrors.Is(err, claim.ErrRecordStale):
		return err
	case stdErrors.Is(err, redis.TxFailedErr):
		return claim.ErrRecordStale
	default:
		if _, ok := xerrors.From(err); ok {
			return err
		}
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "更新存证失败",
			xerrors.WithMetadata("claim", fp.Hex()))
	}
}

// Close 关闭 Redis 连接。
func (s *ClaimStore) Close() error {
	if s == nil || s.client == nil {
		return nil
	}
	return s.client.Close()
}

// hashReader 同时由 *redis.Client 与 *redis.Tx 实现。
type hashReader interface {
	HGetAll(ctx context.Context, key string) *redis.MapStringStringCmd
}

func readRecord(ctx context.Context, c hashReader, key string) (claim.Record, error) {
	values, err := c.HGetAll(ctx, key).Result()
	if err != nil {
		return claim.Record{}, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询存证失败")
	}
	if len(values) == 0 {
		return claim.Record{}, claim.ErrRecordNotFound
	}
	return decodeRecord(values)
}

func encodeRecord(rec claim.Record) map[string]any {
	return map[string]any{
		fieldOwner:        string(rec.Owner),
		fieldRegisteredAt: strconv.FormatUint(uint64(rec.RegisteredAt), 10),
		fieldActive:       strconv.FormatBool(rec.Active),
	}
}

func decodeRecord(values map[string]string) (claim.Record, error) {
	registeredAt, err := strconv.ParseUint(values[fieldRegisteredAt], 10, 64)
	if err != nil {
		return claim.Record{}, xerrors.Wrap(xerrors.CodeStorageFailure, err, "存证记录格式错误")
	}
	active, err := strconv.ParseBool(values[fieldActive])
	if err != nil {
		return claim.Record{}, xerrors.Wrap(xerrors.CodeStorageFailure, err, "存证记录格式错误")
	}
	return claim.Record{
		Owner:        claim.AccountID(values[fieldOwner]),
		RegisteredAt: claim.TimePoint(registeredAt),
		Active:       active,
	}, nil
}
