package ledger

import (
	"sync"

	"github.com/btcsuite/btcd/chaincfg/chainhash"

	"github.com/p2pclouds/powledger/chain"
)

// EventType names a chain event delivered to subscribers.
type EventType string

const (
	EventBlockConnected    EventType = "block_connected"
	EventBlockDisconnected EventType = "block_disconnected"
	EventReorganization    EventType = "reorganization"
)

// Event is a copy of a chain notification that is safe to hand to other
// goroutines.
type Event struct {
	Type      EventType
	Hash      chainhash.Hash
	Height    uint32
	Timestamp uint32
	TxCount   int

	// Set for EventReorganization.
	OldTip chainhash.Hash
	Depth  uint32
}

func eventFromNotification(n *chain.Notification) Event {
	ev := Event{
		Hash:      n.Node.Hash(),
		Height:    n.Node.Height(),
		Timestamp: n.Node.Timestamp(),
	}
	if n.Block != nil {
		ev.TxCount = len(n.Block.Transactions)
	}
	switch n.Type {
	case chain.NTBlockConnected:
		ev.Type = EventBlockConnected
	case chain.NTBlockDisconnected:
		ev.Type = EventBlockDisconnected
	case chain.NTReorganization:
		ev.Type = EventReorganization
		ev.OldTip = n.OldTip.Hash()
		ev.Depth = n.Depth
	}
	return ev
}

// eventFeed fans events out to subscribers without blocking the publisher.
// A subscriber whose buffer is full misses the event.
type eventFeed struct {
	mu   sync.Mutex
	subs map[chan Event]struct{}
}

func newEventFeed() *eventFeed {
	return &eventFeed{subs: make(map[chan Event]struct{})}
}

func (f *eventFeed) subscribe(buf int) chan Event {
	if buf < 1 {
		buf = 1
	}
	ch := make(chan Event, buf)
	f.mu.Lock()
	f.subs[ch] = struct{}{}
	f.mu.Unlock()
	return ch
}

func (f *eventFeed) unsubscribe(ch chan Event) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.subs[ch]; ok {
		delete(f.subs, ch)
		close(ch)
	}
}

// publish returns the number of subscribers that missed ev.
func (f *eventFeed) publish(ev Event) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	dropped := 0
	for ch := range f.subs {
		select {
		case ch <- ev:
		default:
			dropped++
		}
	}
	return dropped
}

func (f *eventFeed) len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs)
}

// Subscribe delivers chain events until the returned cancel func is called,
// which also closes the channel. Events are dropped for a subscriber that
// falls more than buf events behind.
func (l *Ledger) Subscribe(buf int) (<-chan Event, func()) {
	ch := l.events.subscribe(buf)
	var once sync.Once
	return ch, func() { once.Do(func() { l.events.unsubscribe(ch) }) }
}
