package claim

import (
	"context"
	"net/http"
	"strings"

	xerrors "PoE-Chain/internal/errors"
)

// AccountID 是经过身份认证的账户标识，对注册表而言是不透明值。
type AccountID string

// IsZero 判断账户是否为空。
func (a AccountID) IsZero() bool {
	return strings.TrimSpace(string(a)) == ""
}

// TimePoint 是逻辑时钟给出的时间点（如区块高度）。
type TimePoint uint64

// State 表示存证在生命周期中的状态。
type State string

const (
	StateActive  State = "active"
	StateRevoked State = "revoked"
)

// Record 描述一条存证记录。
type Record struct {
	Owner        AccountID `json:"owner"`
	RegisteredAt TimePoint `json:"registered_at"`
	Active       bool      `json:"active"`
}

// State 返回记录当前的生命周期状态。
func (r Record) State() State {
	if r.Active {
		return StateActive
	}
	return StateRevoked
}

// LogicalClock 提供当前逻辑时间点。
type LogicalClock interface {
	Now(ctx context.Context) (TimePoint, error)
}

// ClockFunc 将函数适配为 LogicalClock。
type ClockFunc func(ctx context.Context) (TimePoint, error)

// Now 实现 LogicalClock。
func (f ClockFunc) Now(ctx context.Context) (TimePoint, error) {
	return f(ctx)
}

var (
	// ErrProofAlreadyExists 表示指纹已经被登记（无论是否已撤销）。
	ErrProofAlreadyExists = xerrors.New(CodeProofAlreadyExists, "proof already exists")
	// ErrProofNotExist 表示指纹从未被登记。
	ErrProofNotExist = xerrors.New(CodeProofNotExist, "proof does not exist")
	// ErrNotProofOwner 表示请求者不是存证所有者。
	ErrNotProofOwner = xerrors.New(CodeNotProofOwner, "requester is not the proof owner")
	// ErrProofAlreadyRevoked 表示存证已被撤销。
	ErrProofAlreadyRevoked = xerrors.New(CodeProofAlreadyRevoked, "proof already revoked")
	// ErrCannotTransferToSelf 表示转移目标与当前所有者相同。
	ErrCannotTransferToSelf = xerrors.New(CodeCannotTransferToSelf, "cannot transfer proof to self")
)

const (
	CodeProofAlreadyExists   xerrors.Code = "PROOF_ALREADY_EXISTS"
	CodeProofNotExist        xerrors.Code = "PROOF_NOT_EXIST"
	CodeNotProofOwner        xerrors.Code = "NOT_PROOF_OWNER"
	CodeProofAlreadyRevoked  xerrors.Code = "PROOF_ALREADY_REVOKED"
	CodeCannotTransferToSelf xerrors.Code = "CANNOT_TRANSFER_TO_SELF"

	CodeRecordNotFound xerrors.Code = "CLAIM_RECORD_NOT_FOUND"
	CodeRecordExists   xerrors.Code = "CLAIM_RECORD_EXISTS"
	CodeRecordStale    xerrors.Code = "CLAIM_RECORD_STALE"
)

func init() {
	xerrors.Register(CodeProofAlreadyExists, xerrors.Attributes{
		Message:    "proof already exists",
		Severity:   xerrors.SeverityInfo,
		HTTPStatus: http.StatusConflict,
	})
	xerrors.Register(CodeProofNotExist, xerrors.Attributes{
		Message:    "proof does not exist",
		Severity:   xerrors.SeverityInfo,
		HTTPStatus: http.StatusNotFound,
	})
	xerrors.Register(CodeNotProofOwner, xerrors.Attributes{
		Message:    "requester is not the proof owner",
		Severity:   xerrors.SeverityWarning,
		HTTPStatus: http.StatusForbidden,
	})
	xerrors.Register(CodeProofAlreadyRevoked, xerrors.Attributes{
		Message:    "proof already revoked",
		Severity:   xerrors.SeverityInfo,
		HTTPStatus: http.StatusConflict,
	})
	xerrors.Register(CodeCannotTransferToSelf, xerrors.Attributes{
		Message:    "cannot transfer proof to self",
		Severity:   xerrors.SeverityInfo,
		HTTPStatus: http.StatusUnprocessableEntity,
	})
	xerrors.Register(CodeRecordNotFound, xerrors.Attributes{
		Message:    "claim record not found",
		Severity:   xerrors.SeverityInfo,
		HTTPStatus: http.StatusNotFound,
	})
	xerrors.Register(CodeRecordExists, xerrors.Attributes{
		Message:    "claim record already stored",
		Severity:   xerrors.SeverityInfo,
		HTTPStatus: http.StatusConflict,
	})
	xerrors.Register(CodeRecordStale, xerrors.Attributes{
		Message:    "claim record changed concurrently",
		Severity:   xerrors.SeverityWarning,
		Retryable:  true,
		HTTPStatus: http.StatusConflict,
	})
}

// IsClaimError 判断错误是否属于存证错误集合。
func IsClaimError(err error) bool {
	switch xerrors.CodeOf(err) {
	case CodeProofAlreadyExists, CodeProofNotExist, CodeNotProofOwner,
		CodeProofAlreadyRevoked, CodeCannotTransferToSelf:
		return true
	default:
		return false
	}
}
