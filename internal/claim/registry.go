package claim

import (
	"context"
	stdErrors "errors"
	"log/slog"
	"strconv"

	xerrors "PoE-Chain/internal/errors"
	"PoE-Chain/pkg/logger"
)

// Operation 标识注册表的变更操作。
type Operation string

const (
	OperationCreate   Operation = "create"
	OperationRevoke   Operation = "revoke"
	OperationTransfer Operation = "transfer"
)

// Observer 接收每次变更操作的结果，用于指标统计。
type Observer interface {
	ObserveOperation(op Operation, err error)
}

// Registry 负责存证的创建、撤销与转移。
type Registry struct {
	store    Store
	clock    LogicalClock
	sink     EventSink
	observer Observer
	audit    *slog.Logger
	locks    *shardedLocks
}

// Option 定义 Registry 的可选配置。
type Option func(*Registry)

// WithEventSink 指定领域事件的接收者。
func WithEventSink(sink EventSink) Option {
	return func(r *Registry) {
		if sink != nil {
			r.sink = sink
		}
	}
}

// WithObserver 指定操作结果观察者。
func WithObserver(observer Observer) Option {
	return func(r *Registry) {
		r.observer = observer
	}
}

// WithAuditLogger 覆盖默认的审计日志记录器。
func WithAuditLogger(l *slog.Logger) Option {
	return func(r *Registry) {
		if l != nil {
			r.audit = l
		}
	}
}

// NewRegistry 创建存证注册表。
func NewRegistry(store Store, clock LogicalClock, opts ...Option) (*Registry, error) {
	if store == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "claim store 未配置")
	}
	if clock == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "logical clock 未配置")
	}
	r := &Registry{
		store: store,
		clock: clock,
		sink:  NopSink,
		audit: logger.Audit(),
		locks: &shardedLocks{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r, nil
}

// Create 以请求者为所有者登记新的指纹。
func (r *Registry) Create(ctx context.Context, fp Fingerprint, requester AccountID) (rec Record, err error) {
	defer r.observe(OperationCreate, &err)
	if requester.IsZero() {
		return Record{}, xerrors.New(xerrors.CodeUnauthenticated, "requester 不能为空")
	}

	unlock := r.locks.lock(fp)
	defer unlock()

	if _, err := r.store.Get(ctx, fp); err == nil {
		return Record{}, ErrProofAlreadyExists
	} else if !stdErrors.Is(err, ErrRecordNotFound) {
		return Record{}, err
	}

	now, err := r.now(ctx)
	if err != nil {
		return Record{}, err
	}
	rec = Record{Owner: requester, RegisteredAt: now, Active: true}
	if err := r.store.Insert(ctx, fp, rec); err != nil {
		if stdErrors.Is(err, ErrRecordExists) {
			return Record{}, ErrProofAlreadyExists
		}
		return Record{}, err
	}

	r.audit.Info("claim_created",
		slog.String("claim", fp.Hex()),
		slog.String("owner", string(requester)),
		slog.String("registered_at", strconv.FormatUint(uint64(now), 10)),
	)
	r.sink.Emit(ctx, ClaimCreated{Owner: requester, Claim: fp})
	return rec, nil
}

// Revoke 撤销请求者名下仍然有效的存证。记录保留，registered_at 被改写为撤销时刻。
func (r *Registry) Revoke(ctx context.Context, fp Fingerprint, requester AccountID) (rec Record, err error) {
	defer r.observe(OperationRevoke, &err)

	unlock := r.locks.lock(fp)
	defer unlock()

	current, err := r.loadForUpdate(ctx, fp)
	if err != nil {
		return Record{}, err
	}
	if current.Owner != requester {
		return Record{}, ErrNotProofOwner
	}
	if !current.Active {
		return Record{}, ErrProofAlreadyRevoked
	}

	now, err := r.now(ctx)
	if err != nil {
		return Record{}, err
	}
	rec = Record{Owner: current.Owner, RegisteredAt: now, Active: false}
	if err := r.swap(ctx, fp, current, rec); err != nil {
		return Record{}, err
	}

	r.audit.Info("claim_revoked",
		slog.String("claim", fp.Hex()),
		slog.String("owner", string(requester)),
		slog.String("registered_at", strconv.FormatUint(uint64(now), 10)),
	)
	r.sink.Emit(ctx, ClaimRevoked{Owner: requester, Claim: fp})
	return rec, nil
}

// Transfer 将存证转移给 newOwner。不检查激活状态，转移后记录总是处于激活状态，
// registered_at 保持不变。
func (r *Registry) Transfer(ctx context.Context, fp Fingerprint, requester, newOwner AccountID) (rec Record, err error) {
	defer r.observe(OperationTransfer, &err)

	unlock := r.locks.lock(fp)
	defer unlock()

	current, err := r.loadForUpdate(ctx, fp)
	if err != nil {
		return Record{}, err
	}
	if current.Owner != requester {
		return Record{}, ErrNotProofOwner
	}
	if requester == newOwner {
		return Record{}, ErrCannotTransferToSelf
	}
	if newOwner.IsZero() {
		return Record{}, xerrors.New(xerrors.CodeInvalidArgument, "new owner 不能为空")
	}

	rec = Record{Owner: newOwner, RegisteredAt: current.RegisteredAt, Active: true}
	if err := r.swap(ctx, fp, current, rec); err != nil {
		return Record{}, err
	}

	r.audit.Info("claim_transferred",
		slog.String("claim", fp.Hex()),
		slog.String("old_owner", string(requester)),
		slog.String("new_owner", string(newOwner)),
	)
	r.sink.Emit(ctx, ClaimTransferred{OldOwner: requester, NewOwner: newOwner, Claim: fp})
	return rec, nil
}

// Get 返回指纹对应的记录。
func (r *Registry) Get(ctx context.Context, fp Fingerprint) (Record, error) {
	return r.load(ctx, fp)
}

// Exists 判断指纹是否曾被登记。
func (r *Registry) Exists(ctx context.Context, fp Fingerprint) (bool, error) {
	_, err := r.store.Get(ctx, fp)
	switch {
	case err == nil:
		return true, nil
	case stdErrors.Is(err, ErrRecordNotFound):
		return false, nil
	default:
		return false, err
	}
}

func (r *Registry) load(ctx context.Context, fp Fingerprint) (Record, error) {
	return notExist(r.store.Get(ctx, fp))
}

func (r *Registry) loadForUpdate(ctx context.Context, fp Fingerprint) (Record, error) {
	if fresh, ok := r.store.(FreshReader); ok {
		return notExist(fresh.GetFresh(ctx, fp))
	}
	return r.load(ctx, fp)
}

func notExist(rec Record, err error) (Record, error) {
	if err != nil {
		if stdErrors.Is(err, ErrRecordNotFound) {
			return Record{}, ErrProofNotExist
		}
		return Record{}, err
	}
	return rec, nil
}

func (r *Registry) swap(ctx context.Context, fp Fingerprint, prev, next Record) error {
	err := r.store.Swap(ctx, fp, prev, next)
	if err != nil && stdErrors.Is(err, ErrRecordNotFound) {
		return ErrProofNotExist
	}
	return err
}

func (r *Registry) now(ctx context.Context) (TimePoint, error) {
	now, err := r.clock.Now(ctx)
	if err != nil {
		if _, ok := xerrors.From(err); ok {
			return 0, err
		}
		return 0, xerrors.Wrap(xerrors.CodeClockFailure, err, "读取逻辑时钟失败")
	}
	return now, nil
}

func (r *Registry) observe(op Operation, err *error) {
	if r.observer == nil {
		return
	}
	r.observer.ObserveOperation(op, *err)
}
