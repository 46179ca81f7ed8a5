package events

import (
	"context"
	"sync"

	"PoE-Chain/internal/claim"
)

// Recorder 同步记录领域事件，供测试断言使用。
type Recorder struct {
	mu     sync.Mutex
	events []claim.Event
}

var _ claim.EventSink = (*Recorder)(nil)

// Emit 实现 claim.EventSink。
func (r *Recorder) Emit(_ context.Context, event claim.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

// Events 返回已记录事件的副本。
func (r *Recorder) Events() []claim.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]claim.Event(nil), r.events...)
}

// Reset 清空记录。
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
}
