package claim

import "context"

// EventType 标识领域事件类型。
type EventType string

const (
	EventClaimCreated     EventType = "ClaimCreated"
	EventClaimRevoked     EventType = "ClaimRevoked"
	EventClaimTransferred EventType = "ClaimTransferred"
)

// Event 是注册表在成功变更后发出的领域事件。
type Event interface {
	EventType() EventType
	Fingerprint() Fingerprint
}

// ClaimCreated 在存证创建后发出。
type ClaimCreated struct {
	Owner AccountID
	Claim Fingerprint
}

func (e ClaimCreated) EventType() EventType     { return EventClaimCreated }
func (e ClaimCreated) Fingerprint() Fingerprint { return e.Claim }

// ClaimRevoked 在存证撤销后发出。
type ClaimRevoked struct {
	Owner AccountID
	Claim Fingerprint
}

func (e ClaimRevoked) EventType() EventType     { return EventClaimRevoked }
func (e ClaimRevoked) Fingerprint() Fingerprint { return e.Claim }

// ClaimTransferred 在所有权转移后发出。
type ClaimTransferred struct {
	OldOwner AccountID
	NewOwner AccountID
	Claim    Fingerprint
}

func (e ClaimTransferred) EventType() EventType     { return EventClaimTransferred }
func (e ClaimTransferred) Fingerprint() Fingerprint { return e.Claim }

// EventSink 接收领域事件。投递失败不影响已提交的状态变更，因此没有返回值。
type EventSink interface {
	Emit(ctx context.Context, event Event)
}

// EventSinkFunc 将函数适配为 EventSink。
type EventSinkFunc func(ctx context.Context, event Event)

// Emit 实现 EventSink。
func (f EventSinkFunc) Emit(ctx context.Context, event Event) {
	f(ctx, event)
}

type nopSink struct{}

func (nopSink) Emit(context.Context, Event) {}

// NopSink 丢弃所有事件。
var NopSink EventSink = nopSink{}
