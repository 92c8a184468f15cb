package messaging

import (
	"errors"
	"fmt"
	"testing"

	"github.com/fugue-ai/rhema-coordination/internal/shared"
)

func testConfig() shared.CoordinationConfig {
	cfg := shared.DefaultCoordinationConfig()
	cfg.MailboxCapacity = 3
	cfg.BroadcastBuffer = 3
	cfg.MessageHistoryLimit = 5
	return cfg
}

func directMessage(id, recipient string) *shared.Message {
	return &shared.Message{
		ID:           id,
		Type:         shared.MessageTypeStatusUpdate,
		SenderID:     "sender",
		RecipientIDs: []string{recipient},
		Content:      "payload",
	}
}

func TestMessageBus_SendValidatesRequiredFields(t *testing.T) {
	bus := New(testConfig(), nil)
	t.Cleanup(bus.Shutdown)

	cases := []*shared.Message{
		nil,
		{SenderID: "a", Content: "x"},
		{ID: "m1", Content: "x"},
		{ID: "m1", SenderID: "a"},
	}
	for i, msg := range cases {
		err := bus.Send(msg)
		if !errors.Is(err, &shared.CoordinationError{Kind: shared.ErrInvalidMessageFormat}) {
			t.Fatalf("case %d: expected invalid format error, got %v", i, err)
		}
	}

	if bus.Stats().Sent != 0 {
		t.Fatal("rejected messages must not count as sent")
	}
}

func TestMessageBus_SendDeliversToMailbox(t *testing.T) {
	bus := New(testConfig(), nil)
	t.Cleanup(bus.Shutdown)

	bus.Attach("agent-1")
	if err := bus.Send(directMessage("m1", "agent-1")); err != nil {
		t.Fatalf("failed to send: %v", err)
	}

	stream, err := bus.Stream("agent-1")
	if err != nil {
		t.Fatalf("failed to open stream: %v", err)
	}
	// Stream replaces the mailbox, so resend to the new one.
	if err := bus.Send(directMessage("m2", "agent-1")); err != nil {
		t.Fatalf("failed to send: %v", err)
	}

	got := <-stream
	if got.ID != "m2" {
		t.Fatalf("expected message m2, got %q", got.ID)
	}
	if got.Timestamp == 0 {
		t.Fatal("expected the bus to stamp a timestamp")
	}

	stats := bus.Stats()
	if stats.Sent != 2 || stats.Delivered != 2 {
		t.Fatalf("expected 2 sent and 2 delivered, got %+v", stats)
	}
}

func TestMessageBus_FullMailboxCountsFailureWithoutError(t *testing.T) {
	bus := New(testConfig(), nil)
	t.Cleanup(bus.Shutdown)

	bus.Attach("slow")
	for i := 0; i < 4; i++ {
		if err := bus.Send(directMessage(fmt.Sprintf("m%d", i), "slow")); err != nil {
			t.Fatalf("send %d: %v", i, err)
		}
	}

	stats := bus.Stats()
	if stats.Sent != 4 {
		t.Fatalf("expected 4 sent, got %d", stats.Sent)
	}
	if stats.Delivered != 3 {
		t.Fatalf("expected 3 delivered with capacity 3, got %d", stats.Delivered)
	}
	if stats.Failed != 1 {
		t.Fatalf("expected 1 failed delivery, got %d", stats.Failed)
	}
}

func TestMessageBus_SendToUnknownRecipientCountsFailure(t *testing.T) {
	bus := New(testConfig(), nil)
	t.Cleanup(bus.Shutdown)

	if err := bus.Send(directMessage("m1", "ghost")); err != nil {
		t.Fatalf("expected point-to-point failure to be absorbed, got %v", err)
	}
	if got := bus.Stats().Failed; got != 1 {
		t.Fatalf("expected 1 failed delivery, got %d", got)
	}
}

func TestMessageBus_ExpiredMessageIsNotDelivered(t *testing.T) {
	bus := New(testConfig(), nil)
	t.Cleanup(bus.Shutdown)

	bus.Attach("agent-1")
	msg := directMessage("m1", "agent-1")
	msg.ExpiresAt = shared.Now() - 10
	if err := bus.Send(msg); err != nil {
		t.Fatalf("failed to send: %v", err)
	}

	stats := bus.Stats()
	if stats.Delivered != 0 || stats.Failed != 1 {
		t.Fatalf("expected expired message to fail delivery, got %+v", stats)
	}
}

func TestMessageBus_ExpiredBroadcastIsDropped(t *testing.T) {
	bus := New(testConfig(), nil)
	t.Cleanup(bus.Shutdown)

	sub, cancel := bus.SubscribeBroadcast()
	t.Cleanup(cancel)

	msg := directMessage("m1", "ignored")
	msg.ExpiresAt = shared.Now() - 10
	if err := bus.Broadcast(msg); err != nil {
		t.Fatalf("failed to broadcast: %v", err)
	}

	stats := bus.Stats()
	if stats.Delivered != 0 || stats.Failed != 1 {
		t.Fatalf("expected expired broadcast to count as failed, got %+v", stats)
	}
	select {
	case got := <-sub:
		t.Fatalf("expected no broadcast delivery, got %q", got.ID)
	default:
	}
}

func TestMessageBus_BroadcastCountsOneDeliveryRegardlessOfSubscribers(t *testing.T) {
	bus := New(testConfig(), nil)
	t.Cleanup(bus.Shutdown)

	// No subscribers at all.
	if err := bus.Broadcast(directMessage("m1", "ignored")); err != nil {
		t.Fatalf("failed to broadcast: %v", err)
	}
	if got := bus.Stats().Delivered; got != 1 {
		t.Fatalf("expected 1 delivered with zero subscribers, got %d", got)
	}

	sub1, cancel1 := bus.SubscribeBroadcast()
	sub2, cancel2 := bus.SubscribeBroadcast()
	t.Cleanup(cancel1)
	t.Cleanup(cancel2)

	if err := bus.Broadcast(directMessage("m2", "ignored")); err != nil {
		t.Fatalf("failed to broadcast: %v", err)
	}
	if got := bus.Stats().Delivered; got != 2 {
		t.Fatalf("expected delivered to rise by exactly one, got %d", got)
	}

	for i, sub := range []<-chan *shared.Message{sub1, sub2} {
		got := <-sub
		if got.ID != "m2" {
			t.Fatalf("subscriber %d: expected m2, got %q", i, got.ID)
		}
		if len(got.RecipientIDs) != 0 {
			t.Fatalf("subscriber %d: broadcast must have no recipients", i)
		}
	}
}

func TestMessageBus_BroadcastDropsOldestForSlowSubscriber(t *testing.T) {
	cfg := testConfig()
	cfg.BroadcastBuffer = 2
	bus := New(cfg, nil)
	t.Cleanup(bus.Shutdown)

	sub, cancel := bus.SubscribeBroadcast()
	t.Cleanup(cancel)

	for i := 0; i < 4; i++ {
		if err := bus.Broadcast(directMessage(fmt.Sprintf("m%d", i), "ignored")); err != nil {
			t.Fatalf("broadcast %d: %v", i, err)
		}
	}

	// Buffer of 2: the oldest two were dropped, the newest two remain.
	first := <-sub
	second := <-sub
	if first.ID != "m2" || second.ID != "m3" {
		t.Fatalf("expected m2 then m3 after drops, got %q then %q", first.ID, second.ID)
	}
}

func TestMessageBus_HistoryIsBoundedOldestFirst(t *testing.T) {
	bus := New(testConfig(), nil)
	t.Cleanup(bus.Shutdown)

	for i := 0; i < 8; i++ {
		if err := bus.Broadcast(directMessage(fmt.Sprintf("m%d", i), "ignored")); err != nil {
			t.Fatalf("broadcast %d: %v", i, err)
		}
	}

	history := bus.History(0)
	if len(history) != 5 {
		t.Fatalf("expected history capped at 5, got %d", len(history))
	}
	if history[0].ID != "m3" || history[4].ID != "m7" {
		t.Fatalf("expected oldest-first window m3..m7, got %q..%q", history[0].ID, history[4].ID)
	}

	tail := bus.History(2)
	if len(tail) != 2 || tail[0].ID != "m6" {
		t.Fatalf("expected last two entries starting at m6, got %v", tail)
	}
}

func TestMessageBus_SendStrictReportsDeliveryFailure(t *testing.T) {
	bus := New(testConfig(), nil)
	t.Cleanup(bus.Shutdown)

	err := bus.SendStrict("ghost", &shared.Message{ID: "m1", SenderID: "s", Content: "x"})
	if !errors.Is(err, &shared.CoordinationError{Kind: shared.ErrMessageDeliveryFailed}) {
		t.Fatalf("expected delivery failure for missing mailbox, got %v", err)
	}

	bus.Attach("agent-1")
	if err := bus.SendStrict("agent-1", &shared.Message{ID: "m2", SenderID: "s", Content: "x"}); err != nil {
		t.Fatalf("expected strict send to succeed, got %v", err)
	}
}

func TestMessageBus_DetachStopsDelivery(t *testing.T) {
	bus := New(testConfig(), nil)
	t.Cleanup(bus.Shutdown)

	bus.Attach("agent-1")
	bus.Detach("agent-1")

	if err := bus.Send(directMessage("m1", "agent-1")); err != nil {
		t.Fatalf("failed to send: %v", err)
	}
	if got := bus.Stats().Failed; got != 1 {
		t.Fatalf("expected delivery failure after detach, got %d failed", got)
	}
}
