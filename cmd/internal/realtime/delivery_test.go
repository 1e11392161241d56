package realtime

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	v1 "github.com/zaplabs/zap-server/shared/contracts/chat/v1"
)

type deliveryFixture struct {
	store    *MemoryStore
	presence *Presence
	active   *ActiveChats
	delivery *Delivery
}

func newDeliveryFixture() *deliveryFixture {
	log := testLogger()
	store := NewMemoryStore()
	presence := NewPresence(log, nil)
	active := NewActiveChats()
	return &deliveryFixture{
		store:    store,
		presence: presence,
		active:   active,
		delivery: NewDelivery(log, store, presence, active, nil),
	}
}

func drainOne(t *testing.T, c *Client, wantType string) v1.Envelope {
	t.Helper()
	select {
	case env := <-c.Send:
		if env.Type != wantType {
			t.Fatalf("envelope type=%q want=%q", env.Type, wantType)
		}
		return env
	default:
		t.Fatalf("no %q envelope queued", wantType)
		return v1.Envelope{}
	}
}

func assertEmpty(t *testing.T, c *Client) {
	t.Helper()
	select {
	case env := <-c.Send:
		t.Fatalf("unexpected envelope queued: %q", env.Type)
	default:
	}
}

func TestDelivery_AdvanceReceiverOffline(t *testing.T) {
	t.Parallel()

	f := newDeliveryFixture()
	ctx := context.Background()
	now := time.Now().UTC()

	sender := NewClient("c1", "alice", "Alice", 8)
	f.presence.SetOnline(sender)

	msg, _ := f.store.CreateDirectMessage(ctx, "alice", "bob", "hi", now)
	got, err := f.delivery.Advance(ctx, msg, sender, now)
	if err != nil {
		t.Fatalf("Advance: %v", err)
	}
	if got.Delivered || got.Seen {
		t.Fatalf("offline receiver must stay pending, got %+v", got)
	}
	assertEmpty(t, sender)
}

func TestDelivery_AdvanceReceiverOnlineElsewhere(t *testing.T) {
	t.Parallel()

	f := newDeliveryFixture()
	ctx := context.Background()
	now := time.Now().UTC()

	sender := NewClient("c1", "alice", "Alice", 8)
	receiver := NewClient("c2", "bob", "Bob", 8)
	f.presence.SetOnline(sender)
	f.presence.SetOnline(receiver)

	msg, _ := f.store.CreateDirectMessage(ctx, "alice", "bob", "hi", now)
	got, err := f.delivery.Advance(ctx, msg, sender, now)
	if err != nil {
		t.Fatalf("Advance: %v", err)
	}
	if !got.Delivered || got.Seen {
		t.Fatalf("expected delivered-not-seen, got %+v", got)
	}

	pending, _ := f.store.GetUndelivered(ctx, "bob")
	if len(pending) != 0 {
		t.Fatalf("message should be delivered in store")
	}
}

func TestDelivery_AdvanceReceiverViewingConversation(t *testing.T) {
	t.Parallel()

	f := newDeliveryFixture()
	ctx := context.Background()
	now := time.Now().UTC()

	sender := NewClient("c1", "alice", "Alice", 8)
	receiver := NewClient("c2", "bob", "Bob", 8)
	f.presence.SetOnline(sender)
	f.presence.SetOnline(receiver)
	f.active.SetActive("bob", "alice")

	msg, _ := f.store.CreateDirectMessage(ctx, "alice", "bob", "hi", now)
	got, err := f.delivery.Advance(ctx, msg, sender, now)
	if err != nil {
		t.Fatalf("Advance: %v", err)
	}
	if !got.Delivered || !got.Seen {
		t.Fatalf("expected delivered+seen for viewing receiver, got %+v", got)
	}

	env := drainOne(t, sender, v1.TypeMessagesSeen)
	var p v1.MessagesSeenPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		t.Fatalf("decode messages_seen: %v", err)
	}
	if p.By != "bob" || p.ChatWith != "alice" {
		t.Fatalf("messages_seen payload mismatch: %+v", p)
	}
}

func TestDelivery_AdvanceViewingDifferentPeer(t *testing.T) {
	t.Parallel()

	f := newDeliveryFixture()
	ctx := context.Background()
	now := time.Now().UTC()

	sender := NewClient("c1", "alice", "Alice", 8)
	receiver := NewClient("c2", "bob", "Bob", 8)
	f.presence.SetOnline(sender)
	f.presence.SetOnline(receiver)
	f.active.SetActive("bob", "carol")

	msg, _ := f.store.CreateDirectMessage(ctx, "alice", "bob", "hi", now)
	got, _ := f.delivery.Advance(ctx, msg, sender, now)
	if !got.Delivered || got.Seen {
		t.Fatalf("viewing a different peer must not auto-see, got %+v", got)
	}
	assertEmpty(t, sender)
}

func TestDelivery_FlushPendingOnReconnect(t *testing.T) {
	t.Parallel()

	f := newDeliveryFixture()
	ctx := context.Background()
	base := time.Now().UTC()

	// Two messages queued while bob was offline; alice is online when bob
	// reconnects, carol is not.
	m1, _ := f.store.CreateDirectMessage(ctx, "alice", "bob", "from alice", base)
	m2, _ := f.store.CreateDirectMessage(ctx, "carol", "bob", "from carol", base.Add(time.Millisecond))

	alice := NewClient("c1", "alice", "Alice", 8)
	f.presence.SetOnline(alice)

	bob := NewClient("c2", "bob", "Bob", 8)
	f.presence.SetOnline(bob)

	if err := f.delivery.FlushPending(ctx, bob, base.Add(time.Second)); err != nil {
		t.Fatalf("FlushPending: %v", err)
	}

	// Bob gets both messages, flagged delivered, oldest first.
	env := drainOne(t, bob, v1.TypeReceiveMessage)
	var p v1.ReceiveMessagePayload
	_ = json.Unmarshal(env.Payload, &p)
	if p.ID != m1.ID || !p.Delivered {
		t.Fatalf("first flushed message mismatch: %+v", p)
	}
	env = drainOne(t, bob, v1.TypeReceiveMessage)
	_ = json.Unmarshal(env.Payload, &p)
	if p.ID != m2.ID {
		t.Fatalf("second flushed message mismatch: %+v", p)
	}

	// Alice (online) is notified; carol (offline) silently skipped.
	env = drainOne(t, alice, v1.TypeMessageDelivered)
	var dp v1.MessageDeliveredPayload
	_ = json.Unmarshal(env.Payload, &dp)
	if dp.MessageID != m1.ID || dp.To != "bob" {
		t.Fatalf("message_delivered payload mismatch: %+v", dp)
	}

	// Store advanced: nothing pending remains.
	pending, _ := f.store.GetUndelivered(ctx, "bob")
	if len(pending) != 0 {
		t.Fatalf("flush left pending messages: %v", pending)
	}

	// Flushing again is a no-op.
	if err := f.delivery.FlushPending(ctx, bob, base.Add(2*time.Second)); err != nil {
		t.Fatalf("FlushPending (repeat): %v", err)
	}
	assertEmpty(t, bob)
}

func TestDelivery_FlushPendingBacklogLargerThanQueue(t *testing.T) {
	t.Parallel()

	f := newDeliveryFixture()
	ctx := context.Background()
	base := time.Now().UTC()

	const backlog = 10
	const queueSize = 4

	sent := make([]DirectMessage, 0, backlog)
	for i := 0; i < backlog; i++ {
		m, err := f.store.CreateDirectMessage(ctx, "alice", "bob", "queued", base.Add(time.Duration(i)*time.Millisecond))
		if err != nil {
			t.Fatalf("CreateDirectMessage: %v", err)
		}
		sent = append(sent, m)
	}

	bob := NewClient("c1", "bob", "Bob", queueSize)
	f.presence.SetOnline(bob)

	if err := f.delivery.FlushPending(ctx, bob, base.Add(time.Second)); err != nil {
		t.Fatalf("FlushPending: %v", err)
	}

	// The queue took the oldest messages, in order.
	for i := 0; i < queueSize; i++ {
		env := drainOne(t, bob, v1.TypeReceiveMessage)
		var p v1.ReceiveMessagePayload
		_ = json.Unmarshal(env.Payload, &p)
		if p.ID != sent[i].ID {
			t.Fatalf("flushed message %d = %q, want %q", i, p.ID, sent[i].ID)
		}
	}

	// Everything the queue could not take stays pending for the next connect.
	pending, err := f.store.GetUndelivered(ctx, "bob")
	if err != nil {
		t.Fatalf("GetUndelivered: %v", err)
	}
	if len(pending) != backlog-queueSize {
		t.Fatalf("pending after flush = %d, want %d", len(pending), backlog-queueSize)
	}
	if pending[0].ID != sent[queueSize].ID {
		t.Fatalf("oldest remaining = %q, want %q", pending[0].ID, sent[queueSize].ID)
	}

	// A second flush with a drained queue picks up the remainder.
	if err := f.delivery.FlushPending(ctx, bob, base.Add(2*time.Second)); err != nil {
		t.Fatalf("FlushPending (second): %v", err)
	}
	for i := queueSize; i < 2*queueSize; i++ {
		env := drainOne(t, bob, v1.TypeReceiveMessage)
		var p v1.ReceiveMessagePayload
		_ = json.Unmarshal(env.Payload, &p)
		if p.ID != sent[i].ID {
			t.Fatalf("second flush message %d = %q, want %q", i, p.ID, sent[i].ID)
		}
	}
}

func TestDelivery_SetActiveChatRetroactiveSeen(t *testing.T) {
	t.Parallel()

	f := newDeliveryFixture()
	ctx := context.Background()
	now := time.Now().UTC()

	alice := NewClient("c1", "alice", "Alice", 8)
	bob := NewClient("c2", "bob", "Bob", 8)
	f.presence.SetOnline(alice)
	f.presence.SetOnline(bob)

	msg, _ := f.store.CreateDirectMessage(ctx, "alice", "bob", "unread", now)
	_ = f.store.MarkDelivered(ctx, []string{msg.ID})

	// Bob opens the conversation with alice: pending messages flip to seen
	// and alice is notified.
	if err := f.delivery.SetActiveChat(ctx, bob, "alice", now); err != nil {
		t.Fatalf("SetActiveChat: %v", err)
	}

	if peer, ok := f.active.Get("bob"); !ok || peer != "alice" {
		t.Fatalf("active chat not recorded: %q %v", peer, ok)
	}
	drainOne(t, alice, v1.TypeMessagesSeen)

	// Clearing with empty peer drops the entry and notifies nobody.
	if err := f.delivery.SetActiveChat(ctx, bob, "", now); err != nil {
		t.Fatalf("SetActiveChat(clear): %v", err)
	}
	if _, ok := f.active.Get("bob"); ok {
		t.Fatalf("active chat not cleared")
	}
	assertEmpty(t, alice)
}

func TestDelivery_AckDeliveredNotifiesSender(t *testing.T) {
	t.Parallel()

	f := newDeliveryFixture()
	ctx := context.Background()
	now := time.Now().UTC()

	alice := NewClient("c1", "alice", "Alice", 8)
	bob := NewClient("c2", "bob", "Bob", 8)
	f.presence.SetOnline(alice)
	f.presence.SetOnline(bob)

	msg, _ := f.store.CreateDirectMessage(ctx, "alice", "bob", "hi", now)

	if err := f.delivery.AckDelivered(ctx, bob, msg.ID, "alice", now); err != nil {
		t.Fatalf("AckDelivered: %v", err)
	}

	env := drainOne(t, alice, v1.TypeMessageDelivered)
	var p v1.MessageDeliveredPayload
	_ = json.Unmarshal(env.Payload, &p)
	if p.MessageID != msg.ID || p.To != "bob" {
		t.Fatalf("ack relay mismatch: %+v", p)
	}

	pending, _ := f.store.GetUndelivered(ctx, "bob")
	if len(pending) != 0 {
		t.Fatalf("ack did not advance store state")
	}
}
