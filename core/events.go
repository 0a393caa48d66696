package core

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/dustin/go-broadcast"
	"github.com/encodeous/trustbgp/state"
)

// Event is a structured record of something the router did
type Event struct {
	Type   RouterEvent
	Router state.RouterId
	Time   time.Time
	Desc   string
	Args   []any
}

func (e Event) String() string {
	return fmt.Sprintf("%s %s %s %v", e.Router, e.Type, e.Desc, e.Args)
}

// EventBus fans router events out to subscribers. Publishing never blocks;
// events are dropped when the bus is saturated.
type EventBus struct {
	broadcast.Broadcaster
	closed atomic.Bool
}

func NewEventBus() *EventBus {
	return &EventBus{Broadcaster: broadcast.NewBroadcaster(1024)}
}

func (b *EventBus) Publish(e Event) bool {
	if b.closed.Load() {
		return false
	}
	return b.TrySubmit(e)
}

func (b *EventBus) Close() error {
	if b.closed.Swap(true) {
		return nil
	}
	return b.Broadcaster.Close()
}

// Subscribe registers ch. The subscriber must keep draining it, a stalled
// subscriber holds up every other one.
func (b *EventBus) Subscribe(ch chan<- any) {
	b.Register(ch)
}

func (b *EventBus) Unsubscribe(ch chan<- any) {
	b.Unregister(ch)
}
