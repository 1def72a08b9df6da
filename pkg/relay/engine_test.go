package relay

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ghhufue/chatrelay/pkg/auth"
	"github.com/ghhufue/chatrelay/pkg/logger"
	"github.com/ghhufue/chatrelay/pkg/models"
	"github.com/ghhufue/chatrelay/pkg/presence"
	"github.com/ghhufue/chatrelay/pkg/reply"
	"github.com/ghhufue/chatrelay/pkg/store"
)

// capture is a presence.Session that records pushed frames.
type capture struct {
	mu     sync.Mutex
	frames []any
	fail   bool
}

func (c *capture) Send(frame any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fail {
		return errors.New("write failed")
	}
	c.frames = append(c.frames, frame)
	return nil
}

func (c *capture) take() []any {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := c.frames
	c.frames = nil
	return out
}

type fixture struct {
	registry *presence.Registry
	engine   *Engine
	friends  *Friends
	human    models.Principal
	humanB   models.Principal
	bot      models.Principal
}

func setup(t *testing.T, gen reply.Generator, budget time.Duration) *fixture {
	t.Helper()
	logger.Init()
	if err := store.Open(t.TempDir() + "/db"); err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	mk := func(name, kind string) models.Principal {
		p, err := store.CreatePrincipal(models.Principal{Username: name, Nickname: name, Kind: kind})
		if err != nil {
			t.Fatalf("CreatePrincipal %s: %v", name, err)
		}
		return p
	}
	dir := auth.NewDirectory([]byte("test-secret"))
	reg := presence.NewRegistry()
	return &fixture{
		registry: reg,
		engine:   NewEngine(reg, dir, gen, budget),
		friends:  NewFriends(reg, dir),
		human:    mk("sender", models.KindHuman),
		humanB:   mk("receiver", models.KindHuman),
		bot:      mk("bot", models.KindAutomated),
	}
}

func TestSubmitOfflineReceiverQueues(t *testing.T) {
	f := setup(t, reply.Canned{Reply: "x"}, 0)
	sender := &capture{}
	f.registry.Register(f.human.ID, sender)

	if err := f.engine.Submit(context.Background(), f.human.ID, f.humanB.ID, "hi", "text", nil); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	msgs, err := store.ListConversation(f.human.ID, f.humanB.ID, 0, 0)
	if err != nil {
		t.Fatalf("ListConversation: %v", err)
	}
	if len(msgs) != 1 {
		t.Fatalf("expected exactly one persisted record, got %d", len(msgs))
	}
	m := msgs[0]
	if m.SenderID != f.human.ID || m.ReceiverID != f.humanB.ID || m.Content != "hi" || m.Received {
		t.Fatalf("unexpected persisted row %+v", m)
	}

	frames := sender.take()
	if len(frames) != 1 {
		t.Fatalf("expected one ack frame, got %d", len(frames))
	}
	ack, ok := frames[0].(models.MessageReturn)
	if !ok {
		t.Fatalf("expected MessageReturn, got %T", frames[0])
	}
	if ack.MessageID != m.ID || ack.ReceiverID != f.humanB.ID {
		t.Fatalf("ack does not carry assigned identity: %+v", ack)
	}
}

func TestSubmitLiveReceiverForwards(t *testing.T) {
	f := setup(t, reply.Canned{Reply: "x"}, 0)
	receiver := &capture{}
	f.registry.Register(f.humanB.ID, receiver)

	if err := f.engine.Submit(context.Background(), f.human.ID, f.humanB.ID, "hi", "text", nil); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	msgs, err := store.ListConversation(f.human.ID, f.humanB.ID, 0, 0)
	if err != nil || len(msgs) != 1 {
		t.Fatalf("expected one persisted record, got %d (err %v)", len(msgs), err)
	}
	if !msgs[0].Received {
		t.Fatalf("live push should mark the record received")
	}

	frames := receiver.take()
	if len(frames) != 1 {
		t.Fatalf("expected one forward frame, got %d", len(frames))
	}
	fw, ok := frames[0].(models.NewMessage)
	if !ok {
		t.Fatalf("expected NewMessage, got %T", frames[0])
	}
	if fw.MessageID != msgs[0].ID || fw.SenderID != f.human.ID {
		t.Fatalf("forward frame identity mismatch: %+v", fw)
	}
}

func TestSubmitPushFailureKeepsQueued(t *testing.T) {
	f := setup(t, reply.Canned{Reply: "x"}, 0)
	receiver := &capture{fail: true}
	f.registry.Register(f.humanB.ID, receiver)

	if err := f.engine.Submit(context.Background(), f.human.ID, f.humanB.ID, "hi", "text", nil); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	msgs, _ := store.ListConversation(f.human.ID, f.humanB.ID, 0, 0)
	if len(msgs) != 1 || msgs[0].Received {
		t.Fatalf("failed push must leave the record queued: %+v", msgs)
	}
}

func TestSubmitUnknownReceiver(t *testing.T) {
	f := setup(t, reply.Canned{Reply: "x"}, 0)
	err := f.engine.Submit(context.Background(), f.human.ID, 999, "hi", "text", nil)
	if !errors.Is(err, ErrPrincipalNotFound) {
		t.Fatalf("expected ErrPrincipalNotFound, got %v", err)
	}
	if msgs, _ := store.ListConversation(f.human.ID, 999, 0, 0); len(msgs) != 0 {
		t.Fatalf("aborted submission must leave no partial writes")
	}
}

func TestSubmitAutomatedRelaysReply(t *testing.T) {
	f := setup(t, reply.Canned{Reply: "hello human"}, 0)
	sender := &capture{}
	f.registry.Register(f.human.ID, sender)

	history := []models.HistoryMessage{{ID: 1, SenderID: f.human.ID, ReceiverID: f.bot.ID, Content: "hi bot", Type: "text"}}
	if err := f.engine.Submit(context.Background(), f.human.ID, f.bot.ID, "hi bot", "text", history); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	msgs, err := store.ListConversation(f.human.ID, f.bot.ID, 0, 0)
	if err != nil {
		t.Fatalf("ListConversation: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("expected inbound plus reply, got %d", len(msgs))
	}
	in, out := msgs[0], msgs[1]
	if !in.Received {
		t.Fatalf("inbound message to an automated peer counts as read")
	}
	if out.SenderID != f.bot.ID || out.ReceiverID != f.human.ID || out.Content != "hello human" {
		t.Fatalf("reply direction not reversed: %+v", out)
	}
	if !out.Received {
		t.Fatalf("reply pushed to a live sender should be received")
	}

	frames := sender.take()
	if len(frames) != 2 {
		t.Fatalf("expected ack plus reply frame, got %d", len(frames))
	}
	if _, ok := frames[0].(models.MessageReturn); !ok {
		t.Fatalf("first frame should be the ack, got %T", frames[0])
	}
	nm, ok := frames[1].(models.NewMessage)
	if !ok {
		t.Fatalf("second frame should be the reply, got %T", frames[1])
	}
	if nm.SenderID != f.bot.ID || nm.Content != "hello human" {
		t.Fatalf("unexpected reply frame %+v", nm)
	}
}

func TestSubmitAutomatedOfflineSenderQueuesReply(t *testing.T) {
	f := setup(t, reply.Canned{Reply: "later"}, 0)
	if err := f.engine.Submit(context.Background(), f.human.ID, f.bot.ID, "hi", "text", nil); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	msgs, _ := store.ListConversation(f.human.ID, f.bot.ID, 0, 0)
	if len(msgs) != 2 {
		t.Fatalf("expected inbound plus reply, got %d", len(msgs))
	}
	if msgs[1].Received {
		t.Fatalf("reply to an offline sender must stay queued")
	}
}

func TestSubmitAutomatedReplyTimeout(t *testing.T) {
	f := setup(t, reply.Canned{Reply: "slow", Delay: time.Second}, 20*time.Millisecond)
	if err := f.engine.Submit(context.Background(), f.human.ID, f.bot.ID, "hi", "text", nil); err != nil {
		t.Fatalf("Submit should contain generation failure, got %v", err)
	}
	msgs, _ := store.ListConversation(f.human.ID, f.bot.ID, 0, 0)
	if len(msgs) != 1 {
		t.Fatalf("timed-out generation must persist only the inbound message, got %d rows", len(msgs))
	}
}

func TestMarkReadIdempotent(t *testing.T) {
	f := setup(t, reply.Canned{Reply: "x"}, 0)
	if err := f.engine.Submit(context.Background(), f.human.ID, f.humanB.ID, "a", "text", nil); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if err := f.engine.Submit(context.Background(), f.human.ID, f.humanB.ID, "b", "text", nil); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	n, err := f.engine.MarkRead(f.humanB.ID, f.human.ID)
	if err != nil {
		t.Fatalf("MarkRead: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 rows flipped, got %d", n)
	}
	n, err = f.engine.MarkRead(f.humanB.ID, f.human.ID)
	if err != nil || n != 0 {
		t.Fatalf("repeat MarkRead should be a no-op, got n=%d err=%v", n, err)
	}
}
