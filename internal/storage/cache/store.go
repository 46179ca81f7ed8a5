// Package cache wraps a claim.Store with an in-process read cache.
package cache

import (
	"context"
	stdErrors "errors"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"PoE-Chain/internal/claim"
)

const (
	defaultTTL     = 5 * time.Minute
	defaultCleanup = 10 * time.Minute
)

// Store 是带读缓存的 claim.Store 装饰器。写操作先落到底层存储，成功后再更新缓存；
// 比较并交换失败时剔除缓存，下次读取回源。
//
// 多进程共享同一底层存储时，其它进程的写入在 TTL 内对 Get 可能不可见。变更操作通过
// GetFresh 回源读取，所有权与撤销状态的判断始终基于存储中的当前值。
type Store struct {
	inner claim.Store
	cache *gocache.Cache
}

var (
	_ claim.Store       = (*Store)(nil)
	_ claim.FreshReader = (*Store)(nil)
)

// New 创建缓存装饰器，ttl 小于等于 0 时使用默认值。
func New(inner claim.Store, ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &Store{inner: inner, cache: gocache.New(ttl, defaultCleanup)}
}

func cacheKey(fp claim.Fingerprint) string {
	return fp.Hex()
}

// Get 实现 claim.Store。
func (s *Store) Get(ctx context.Context, fp claim.Fingerprint) (claim.Record, error) {
	key := cacheKey(fp)
	if cached, ok := s.cache.Get(key); ok {
		if rec, ok := cached.(claim.Record); ok {
			return rec, nil
		}
	}
	rec, err := s.inner.Get(ctx, fp)
	if err != nil {
		return claim.Record{}, err
	}
	s.cache.SetDefault(key, rec)
	return rec, nil
}

// GetFresh 跳过缓存直接读取底层存储，并用结果刷新缓存。
func (s *Store) GetFresh(ctx context.Context, fp claim.Fingerprint) (claim.Record, error) {
	key := cacheKey(fp)
	rec, err := s.inner.Get(ctx, fp)
	if err != nil {
		s.cache.Delete(key)
		return claim.Record{}, err
	}
	s.cache.SetDefault(key, rec)
	return rec, nil
}

// Insert 实现 claim.Store。
func (s *Store) Insert(ctx context.Context, fp claim.Fingerprint, rec claim.Record) error {
	if err := s.inner.Insert(ctx, fp, rec); err != nil {
		s.cache.Delete(cacheKey(fp))
		return err
	}
	s.cache.SetDefault(cacheKey(fp), rec)
	return nil
}

// Swap 实现 claim.Store。
func (s *Store) Swap(ctx context.Context, fp claim.Fingerprint, prev, next claim.Record) error {
	key := cacheKey(fp)
	if err := s.inner.Swap(ctx, fp, prev, next); err != nil {
		if stdErrors.Is(err, claim.ErrRecordStale) || stdErrors.Is(err, claim.ErrRecordNotFound) {
			s.cache.Delete(key)
		}
		return err
	}
	s.cache.SetDefault(key, next)
	return nil
}

// Len 返回缓存中的条目数量。
func (s *Store) Len() int {
	return s.cache.ItemCount()
}

// Close 清空缓存并关闭底层存储。
func (s *Store) Close() error {
	s.cache.Flush()
	return s.inner.Close()
}
