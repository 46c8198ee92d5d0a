package engine

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/germanamz/netpilot/pkg/chats/content"
)

// EventKind identifies the type of engine event.
type EventKind string

const (
	EventMessageAdded  EventKind = "message_added"
	EventToolCallStart EventKind = "tool_call_start"
	EventToolCallEnd   EventKind = "tool_call_end"
	EventAgentStart    EventKind = "agent_start"
	EventAgentEnd      EventKind = "agent_end"
	EventError         EventKind = "error"
)

// ToolCallData is the Data of tool call events. Result is nil on
// EventToolCallStart.
type ToolCallData struct {
	Call   content.ToolCall
	Result *content.ToolResult
}

// Event is an immutable notification of engine activity.
type Event struct {
	Kind      EventKind
	SessionID string
	Agent     string
	Timestamp time.Time
	Data      any
}

// Subscription receives events from an EventBus.
type Subscription struct {
	C <-chan Event

	ch      chan Event
	session string
	dropped atomic.Int64
}

// Dropped returns how many events were discarded because C was full.
func (s *Subscription) Dropped() int64 { return s.dropped.Load() }

// EventBus fans out events to subscribers. It is safe for concurrent use.
type EventBus struct {
	mu   sync.RWMutex
	subs map[*Subscription]struct{}
}

// NewEventBus creates an EventBus ready for use.
func NewEventBus() *EventBus {
	return &EventBus{
		subs: make(map[*Subscription]struct{}),
	}
}

// Subscribe receives the events of every session. The caller reads from
// sub.C and eventually calls Unsubscribe.
func (b *EventBus) Subscribe(bufSize int) *Subscription {
	return b.SubscribeSession("", bufSize)
}

// SubscribeSession receives only the events of sessionID. An empty id
// matches every session.
func (b *EventBus) SubscribeSession(sessionID string, bufSize int) *Subscription {
	ch := make(chan Event, bufSize)
	sub := &Subscription{C: ch, ch: ch, session: sessionID}

	b.mu.Lock()
	b.subs[sub] = struct{}{}
	b.mu.Unlock()

	return sub
}

// Unsubscribe removes the subscription and closes its channel.
func (b *EventBus) Unsubscribe(sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.subs[sub]; ok {
		delete(b.subs, sub)
		close(sub.ch)
	}
}

// Publish delivers e to matching subscribers without blocking. A subscriber
// whose buffer is full misses the event.
func (b *EventBus) Publish(e Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for sub := range b.subs {
		if sub.session != "" && sub.session != e.SessionID {
			continue
		}
		select {
		case sub.ch <- e:
		default:
			sub.dropped.Add(1)
		}
	}
}
