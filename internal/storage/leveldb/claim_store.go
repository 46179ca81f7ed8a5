// Package leveldb stores claim records in an embedded LevelDB database for
// single-node deployments that need durability without an external server.
package leveldb

import (
	"context"
	"encoding/json"
	stdErrors "errors"
	"sync"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/opt"

	"PoE-Chain/internal/claim"
	xerrors "PoE-Chain/internal/errors"
)

// claimPrefix 是存证记录键的前缀，键为 prefix + 指纹原始字节。
var claimPrefix = []byte{'C'}

// ClaimStore 使用 LevelDB 保存存证记录。
type ClaimStore struct {
	mu sync.Mutex
	db *leveldb.DB
}

var _ claim.Store = (*ClaimStore)(nil)

// Open 打开或创建 path 下的数据库。
func Open(path string) (*ClaimStore, error) {
	if path == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "LevelDB 路径不能为空")
	}
	db, err := leveldb.OpenFile(path, &opt.Options{ErrorIfMissing: false})
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "打开 LevelDB 失败")
	}
	return &ClaimStore{db: db}, nil
}

func claimKey(fp claim.Fingerprint) []byte {
	return append(append([]byte{}, claimPrefix...), fp.Bytes()...)
}

// Get 实现 claim.Store。
func (s *ClaimStore) Get(_ context.Context, fp claim.Fingerprint) (claim.Record, error) {
	return s.get(claimKey(fp))
}

func (s *ClaimStore) get(key []byte) (claim.Record, error) {
	data, err := s.db.Get(key, nil)
	if err != nil {
		if stdErrors.Is(err, leveldb.ErrNotFound) {
			return claim.Record{}, claim.ErrRecordNotFound
		}
		return claim.Record{}, xerrors.Wrap(xerrors.CodeStorageFailure, err, "读取存证失败")
	}
	var rec claim.Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return claim.Record{}, xerrors.Wrap(xerrors.CodeStorageFailure, err, "存证记录格式错误")
	}
	return rec, nil
}

// Insert 实现 claim.Store。
func (s *ClaimStore) Insert(_ context.Context, fp claim.Fingerprint, rec claim.Record) error {
	key := claimKey(fp)
	s.mu.Lock()
	defer s.mu.Unlock()
	ok, err := s.db.Has(key, nil)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "读取存证失败")
	}
	if ok {
		return claim.ErrRecordExists
	}
	return s.put(key, rec)
}

// Swap 实现 claim.Store。
func (s *ClaimStore) Swap(_ context.Context, fp claim.Fingerprint, prev, next claim.Record) error {
	key := claimKey(fp)
	s.mu.Lock()
	defer s.mu.Unlock()
	current, err := s.get(key)
	if err != nil {
		return err
	}
	if current != prev {
		return claim.ErrRecordStale
	}
	return s.put(key, next)
}

func (s *ClaimStore) put(key []byte, rec claim.Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "编码存证失败")
	}
	if err := s.db.Put(key, data, &opt.WriteOptions{Sync: true}); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "写入存证失败")
	}
	return nil
}

// Close 关闭数据库。
func (s *ClaimStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}
