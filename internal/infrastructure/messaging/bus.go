// Package messaging provides the in-process coordination message bus:
// per-agent bounded mailboxes, a lossy broadcast stream, and a bounded
// message history.
package messaging

import (
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/fugue-ai/rhema-coordination/internal/shared"
)

// Stats holds the bus delivery counters.
type Stats struct {
	Sent      int64 `json:"sent"`
	Delivered int64 `json:"delivered"`
	Failed    int64 `json:"failed"`
}

type subscriber struct {
	id int64
	ch chan *shared.Message
}

// MessageBus routes point-to-point messages through bounded mailboxes and
// fans broadcasts out to subscribers. Mailbox delivery is non-blocking: a
// full mailbox counts as a failed delivery and the sender is never told
// which recipients failed. Broadcast delivery is lossy: a slow subscriber
// loses its oldest buffered message instead of blocking the publisher.
type MessageBus struct {
	mu          sync.RWMutex
	mailboxes   map[string]chan *shared.Message
	subscribers map[int64]*subscriber
	nextSubID   atomic.Int64

	history      []shared.Message
	historyLimit int

	mailboxCap      int
	broadcastBuffer int

	sent      atomic.Int64
	delivered atomic.Int64
	failed    atomic.Int64

	logger *zap.Logger
}

// New creates a MessageBus with the given mailbox capacity, broadcast buffer
// size, and history limit.
func New(cfg shared.CoordinationConfig, logger *zap.Logger) *MessageBus {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MessageBus{
		mailboxes:       make(map[string]chan *shared.Message),
		subscribers:     make(map[int64]*subscriber),
		history:         make([]shared.Message, 0),
		historyLimit:    cfg.MessageHistoryLimit,
		mailboxCap:      cfg.MailboxCapacity,
		broadcastBuffer: cfg.BroadcastBuffer,
		logger:          logger,
	}
}

// Attach allocates a mailbox for an agent. Attaching an already-attached
// agent replaces its mailbox.
func (b *MessageBus) Attach(agentID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if old, exists := b.mailboxes[agentID]; exists {
		close(old)
	}
	b.mailboxes[agentID] = make(chan *shared.Message, b.mailboxCap)
}

// Detach removes and closes an agent's mailbox.
func (b *MessageBus) Detach(agentID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if mbox, exists := b.mailboxes[agentID]; exists {
		close(mbox)
		delete(b.mailboxes, agentID)
	}
}

// Send validates and routes a message. An empty recipient list publishes to
// the broadcast stream and counts exactly one delivery regardless of the
// number of subscribers. Partial point-to-point failures are absorbed into
// the counters, never surfaced as an error.
func (b *MessageBus) Send(msg *shared.Message) error {
	if msg == nil || msg.ID == "" || msg.SenderID == "" || msg.Content == "" {
		return shared.NewError(shared.ErrInvalidMessageFormat, "message id, sender id, and content are required")
	}
	if msg.Timestamp == 0 {
		msg.Timestamp = shared.Now()
	}

	b.appendHistory(msg)
	b.sent.Add(1)

	now := shared.Now()
	if len(msg.RecipientIDs) == 0 {
		if msg.Expired(now) {
			b.failed.Add(1)
			return nil
		}
		b.publishBroadcast(msg)
		b.delivered.Add(1)
		return nil
	}

	for _, recipient := range msg.RecipientIDs {
		if msg.Expired(now) {
			b.failed.Add(1)
			continue
		}
		if b.deliverTo(recipient, msg) {
			b.delivered.Add(1)
		} else {
			b.failed.Add(1)
			b.logger.Warn("mailbox delivery failed",
				zap.String("message_id", msg.ID),
				zap.String("recipient", recipient),
			)
		}
	}
	return nil
}

// SendStrict delivers to a single recipient and reports delivery failure as
// an error, unlike Send which only counts it. Used by task dispatch so the
// caller can retry.
func (b *MessageBus) SendStrict(recipientID string, msg *shared.Message) error {
	if msg == nil || msg.ID == "" || msg.SenderID == "" || msg.Content == "" {
		return shared.NewError(shared.ErrInvalidMessageFormat, "message id, sender id, and content are required")
	}
	if msg.Timestamp == 0 {
		msg.Timestamp = shared.Now()
	}
	msg.RecipientIDs = []string{recipientID}

	b.appendHistory(msg)
	b.sent.Add(1)

	if msg.Expired(shared.Now()) {
		b.failed.Add(1)
		return shared.NewError(shared.ErrMessageDeliveryFailed, "message %s expired before delivery", msg.ID)
	}
	if !b.deliverTo(recipientID, msg) {
		b.failed.Add(1)
		return shared.NewError(shared.ErrMessageDeliveryFailed, "mailbox for %s is full or missing", recipientID)
	}
	b.delivered.Add(1)
	return nil
}

// Broadcast sends a message with its recipient list forced empty.
func (b *MessageBus) Broadcast(msg *shared.Message) error {
	if msg != nil {
		msg.RecipientIDs = nil
	}
	return b.Send(msg)
}

// deliverTo performs a non-blocking bounded send into an agent's mailbox.
// The read lock is held across the send so the mailbox cannot be closed out
// from under it.
func (b *MessageBus) deliverTo(agentID string, msg *shared.Message) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()

	mbox, exists := b.mailboxes[agentID]
	if !exists {
		return false
	}

	select {
	case mbox <- shared.CloneMessage(msg):
		return true
	default:
		return false
	}
}

// publishBroadcast fans a message out to all broadcast subscribers, dropping
// each slow subscriber's oldest buffered message under backpressure.
func (b *MessageBus) publishBroadcast(msg *shared.Message) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, sub := range b.subscribers {
		clone := shared.CloneMessage(msg)
		select {
		case sub.ch <- clone:
			continue
		default:
		}
		// Buffer full: drop the oldest entry, then retry once. A racing
		// consumer can still win the slot; the message is dropped then.
		select {
		case <-sub.ch:
		default:
		}
		select {
		case sub.ch <- clone:
		default:
		}
	}
}

// Stream returns the receive side of an agent's mailbox. The previous
// receiver is invalidated: the old mailbox is closed and replaced, so at
// most one consumer is ever active per agent. Messages buffered in the old
// mailbox are discarded.
func (b *MessageBus) Stream(agentID string) (<-chan *shared.Message, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	old, exists := b.mailboxes[agentID]
	if !exists {
		return nil, shared.NewError(shared.ErrAgentNotFound, "agent %s has no mailbox", agentID)
	}
	close(old)

	mbox := make(chan *shared.Message, b.mailboxCap)
	b.mailboxes[agentID] = mbox
	return mbox, nil
}

// SubscribeBroadcast registers a broadcast subscriber and returns its stream
// along with a cancel function that detaches it.
func (b *MessageBus) SubscribeBroadcast() (<-chan *shared.Message, func()) {
	sub := &subscriber{
		id: b.nextSubID.Add(1),
		ch: make(chan *shared.Message, b.broadcastBuffer),
	}

	b.mu.Lock()
	b.subscribers[sub.id] = sub
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if _, exists := b.subscribers[sub.id]; exists {
			delete(b.subscribers, sub.id)
			close(sub.ch)
		}
	}
	return sub.ch, cancel
}

// appendHistory records the message, evicting the oldest entry over the limit.
func (b *MessageBus) appendHistory(msg *shared.Message) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.history = append(b.history, *shared.CloneMessage(msg))
	if b.historyLimit > 0 && len(b.history) > b.historyLimit {
		b.history = b.history[len(b.history)-b.historyLimit:]
	}
}

// History returns copies of the most recent messages, oldest first. A limit
// of 0 or less returns the full retained history.
func (b *MessageBus) History(limit int) []shared.Message {
	b.mu.RLock()
	defer b.mu.RUnlock()

	n := len(b.history)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]shared.Message, 0, n)
	for i := len(b.history) - n; i < len(b.history); i++ {
		out = append(out, *shared.CloneMessage(&b.history[i]))
	}
	return out
}

// HistoryLen returns the number of retained history entries.
func (b *MessageBus) HistoryLen() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.history)
}

// Stats returns the current delivery counters.
func (b *MessageBus) Stats() Stats {
	return Stats{
		Sent:      b.sent.Load(),
		Delivered: b.delivered.Load(),
		Failed:    b.failed.Load(),
	}
}

// QueueDepth returns the total number of buffered mailbox messages.
func (b *MessageBus) QueueDepth() int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	total := 0
	for _, mbox := range b.mailboxes {
		total += len(mbox)
	}
	return total
}

// Shutdown closes all mailboxes and broadcast streams.
func (b *MessageBus) Shutdown() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for id, mbox := range b.mailboxes {
		close(mbox)
		delete(b.mailboxes, id)
	}
	for id, sub := range b.subscribers {
		close(sub.ch)
		delete(b.subscribers, id)
	}
}
