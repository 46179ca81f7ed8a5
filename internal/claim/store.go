package claim

import (
	"context"

	xerrors "PoE-Chain/internal/errors"
)

// Store 抽象了指纹到存证记录映射的持久化接口。
//
// Insert 只在指纹不存在时写入；Swap 只在当前记录与 prev 相同时替换为 next，
// 两者共同为多进程部署提供比较并交换语义。
type Store interface {
	Get(ctx context.Context, fp Fingerprint) (Record, error)
	Insert(ctx context.Context, fp Fingerprint, rec Record) error
	Swap(ctx context.Context, fp Fingerprint, prev, next Record) error
	Close() error
}

// FreshReader 由带读缓存的存储实现。Revoke 与 Transfer 通过它绕过缓存读取当前值，
// 多个进程共享同一存储时，所有权检查不会基于过期记录。
type FreshReader interface {
	GetFresh(ctx context.Context, fp Fingerprint) (Record, error)
}

var (
	// ErrRecordNotFound 表示存储中没有该指纹。
	ErrRecordNotFound = xerrors.New(CodeRecordNotFound, "claim record not found")
	// ErrRecordExists 表示插入时指纹已存在。
	ErrRecordExists = xerrors.New(CodeRecordExists, "claim record already stored")
	// ErrRecordStale 表示比较并交换失败，记录已被并发修改。
	ErrRecordStale = xerrors.New(CodeRecordStale, "claim record changed concurrently")
)
