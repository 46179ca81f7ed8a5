// Package events 将注册表的领域事件投递到外部消息系统。
package events

import (
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"

	"PoE-Chain/internal/claim"
)

// Envelope 是领域事件的线上传输格式。
type Envelope struct {
	ID        string          `json:"id"`
	Type      claim.EventType `json:"type"`
	Claim     string          `json:"claim"`
	Owner     string          `json:"owner,omitempty"`
	OldOwner  string          `json:"old_owner,omitempty"`
	NewOwner  string          `json:"new_owner,omitempty"`
	EmittedAt time.Time       `json:"emitted_at"`
}

// FromEvent 将领域事件封装为 Envelope。
func FromEvent(event claim.Event, at time.Time) Envelope {
	env := Envelope{
		ID:        uuid.NewString(),
		Type:      event.EventType(),
		Claim:     event.Fingerprint().Hex(),
		EmittedAt: at.UTC(),
	}
	switch e := event.(type) {
	case claim.ClaimCreated:
		env.Owner = string(e.Owner)
	case claim.ClaimRevoked:
		env.Owner = string(e.Owner)
	case claim.ClaimTransferred:
		env.OldOwner = string(e.OldOwner)
		env.NewOwner = string(e.NewOwner)
	}
	return env
}

// Event 将 Envelope 还原为领域事件。
func (e Envelope) Event() (claim.Event, error) {
	fp, err := claim.ParseFingerprint(e.Claim, math.MaxInt)
	if err != nil {
		return nil, err
	}
	switch e.Type {
	case claim.EventClaimCreated:
		return claim.ClaimCreated{Owner: claim.AccountID(e.Owner), Claim: fp}, nil
	case claim.EventClaimRevoked:
		return claim.ClaimRevoked{Owner: claim.AccountID(e.Owner), Claim: fp}, nil
	case claim.EventClaimTransferred:
		return claim.ClaimTransferred{
			OldOwner: claim.AccountID(e.OldOwner),
			NewOwner: claim.AccountID(e.NewOwner),
			Claim:    fp,
		}, nil
	default:
		return nil, fmt.Errorf("unknown event type %q", e.Type)
	}
}

// Marshal 返回 JSON 编码。
func (e Envelope) Marshal() ([]byte, error) {
	return json.Marshal(e)
}

// ParseEnvelope 解析 JSON 编码的 Envelope。
func ParseEnvelope(data []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, err
	}
	return env, nil
}
