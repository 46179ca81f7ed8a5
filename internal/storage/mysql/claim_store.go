package mysql

import (
	"context"
	"database/sql"
	stdErrors "errors"
	"log/slog"
	"time"

	"github.com/go-sql-driver/mysql"

	"PoE-Chain/internal/claim"
	xerrors "PoE-Chain/internal/errors"
	"PoE-Chain/pkg/logger"
)

const (
	selectClaimSQL = `SELECT owner, registered_at, active FROM claims WHERE fingerprint = ?`
	insertClaimSQL = `INSERT INTO claims (fingerprint, owner, registered_at, active, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)`
	swapClaimSQL   = `UPDATE claims SET owner = ?, registered_at = ?, active = ?, updated_at = ? WHERE fingerprint = ? AND owner = ? AND registered_at = ? AND active = ?`

	errDuplicateEntry = 1062
)

// claims 表的列宽，见 deploy/migrations/0001_create_claims.sql。
const (
	MaxFingerprintLength = 1024
	MaxOwnerLength       = 128
)

// ClaimStore 使用 MySQL 保存存证记录。
type ClaimStore struct {
	db     *sql.DB
	logger *slog.Logger
	now    func() time.Time
}

var _ claim.Store = (*ClaimStore)(nil)

// NewClaimStore 打开连接池并执行内置迁移。
func NewClaimStore(ctx context.Context, cfg Config) (*ClaimStore, error) {
	db, err := openDatabase(ctx, cfg)
	if err != nil {
		return nil, err
	}
	store := NewClaimStoreWithDB(db)
	if !cfg.SkipMigrations {
		if err := store.Migrate(ctx); err != nil {
			_ = db.Close()
			return nil, err
		}
	}
	return store, nil
}

// NewClaimStoreWithDB 复用已有的连接池，不执行迁移。
func NewClaimStoreWithDB(db *sql.DB) *ClaimStore {
	return &ClaimStore{db: db, logger: logger.Named("mysql"), now: time.Now}
}

// Get 实现 claim.Store。
func (s *ClaimStore) Get(ctx context.Context, fp claim.Fingerprint) (claim.Record, error) {
	var (
		owner        string
		registeredAt uint64
		active       bool
	)
	err := s.db.QueryRowContext(ctx, selectClaimSQL, fp.Bytes()).Scan(&owner, &registeredAt, &active)
	if err != nil {
		if stdErrors.Is(err, sql.ErrNoRows) {
			return claim.Record{}, claim.ErrRecordNotFound
		}
		return claim.Record{}, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询存证失败",
			xerrors.WithMetadata("claim", fp.Hex()))
	}
	return claim.Record{Owner: claim.AccountID(owner), RegisteredAt: claim.TimePoint(registeredAt), Active: active}, nil
}

// Insert 实现 claim.Store，主键冲突视为已存在。
func (s *ClaimStore) Insert(ctx context.Context, fp claim.Fingerprint, rec claim.Record) error {
	if err := checkWidths(fp, rec); err != nil {
		return err
	}
	now := s.now().Unix()
	_, err := s.db.ExecContext(ctx, insertClaimSQL,
		fp.Bytes(), string(rec.Owner), uint64(rec.RegisteredAt), rec.Active, now, now)
	if err != nil {
		var mysqlErr *mysql.MySQLError
		if stdErrors.As(err, &mysqlErr) && mysqlErr.Number == errDuplicateEntry {
			return claim.ErrRecordExists
		}
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "写入存证失败",
			xerrors.WithMetadata("claim", fp.Hex()))
	}
	return nil
}

// Swap 实现 claim.Store，通过带旧值条件的 UPDATE 完成比较并交换。
func (s *ClaimStore) Swap(ctx context.Context, fp claim.Fingerprint, prev, next claim.Record) error {
	if err := checkWidths(fp, next); err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, swapClaimSQL,
		string(next.Owner), uint64(next.RegisteredAt), next.Active, s.now().Unix(),
		fp.Bytes(), string(prev.Owner), uint64(prev.RegisteredAt), prev.Active)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "更新存证失败",
			xerrors.WithMetadata("claim", fp.Hex()))
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "读取受影响行数失败")
	}
	if affected > 0 {
		return nil
	}
	if _, err := s.Get(ctx, fp); err != nil {
		return err
	}
	return claim.ErrRecordStale
}

// Close 关闭连接池。
func (s *ClaimStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// checkWidths 拒绝超出列宽的值，避免非严格模式下被静默截断。
func checkWidths(fp claim.Fingerprint, rec claim.Record) error {
	if fp.Len() > MaxFingerprintLength {
		return xerrors.New(xerrors.CodeInvalidArgument, "指纹超出存储列宽",
			xerrors.WithMetadata("claim", fp.Hex()))
	}
	if len(rec.Owner) > MaxOwnerLength {
		return xerrors.New(xerrors.CodeInvalidArgument, "账户超出存储列宽",
			xerrors.WithMetadata("claim", fp.Hex()))
	}
	return nil
}
