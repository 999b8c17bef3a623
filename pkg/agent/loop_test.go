package agent

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/elajbot/elaj/pkg/bus"
	"github.com/elajbot/elaj/pkg/media"
	"github.com/elajbot/elaj/pkg/memory"
	"github.com/elajbot/elaj/pkg/providers"
)

type loopFixture struct {
	bus     *bus.MessageBus
	store   *memory.SQLiteStore
	history *memory.HistoryStore
	loop    *Loop
}

func newLoopFixture(t *testing.T, backend providers.AssistantBackend, valid map[string]bool) *loopFixture {
	t.Helper()
	store, err := memory.NewSQLiteStore(filepath.Join(t.TempDir(), "elaj.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	history := memory.NewHistoryStore(store, 20, time.Hour)
	profiles := memory.NewProfileStore(store, time.Hour, time.Hour)
	activity := memory.NewActivityLog(store, 12, time.Hour)
	assembler := NewAssembler(history, profiles, activity, store, 6000, 5, 6, time.Hour)

	verifier := media.NewVerifier(store, fixedProber{valid: valid}, time.Hour)
	dispatcher := NewDispatcher(verifier, nil)

	b := bus.NewMessageBus()
	t.Cleanup(b.Close)

	inv := newFakeClockInvoker(backend)
	loop := NewLoop(b, history, profiles, assembler, inv, dispatcher, nil, "@a4k5o6")
	return &loopFixture{bus: b, store: store, history: history, loop: loop}
}

func drainOutbound(b *bus.MessageBus) []bus.OutboundMessage {
	var out []bus.OutboundMessage
	for {
		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		op, ok := b.SubscribeOutbound(ctx)
		cancel()
		if !ok {
			return out
		}
		out = append(out, op)
	}
}

func inbound(text string) bus.InboundMessage {
	return bus.InboundMessage{
		Channel:   "telegram",
		SenderID:  "9",
		ChatID:    "42",
		MessageID: "7",
		Content:   text,
		Metadata:  map[string]string{"name": "Nino", "handle": "@nino"},
	}
}

func TestLoop_CompletedTurn(t *testing.T) {
	backend := &scriptedBackend{
		statuses: []providers.RunStatus{providers.StatusCompleted},
		reply:    "We have two towers on the first line.",
	}
	f := newLoopFixture(t, backend, nil)
	ctx := context.Background()

	f.loop.Handle(ctx, inbound("what do you have in Batumi?"))

	ops := drainOutbound(f.bus)
	var texts, typings int
	for _, op := range ops {
		switch op.Kind {
		case bus.OpText:
			texts++
			if op.Text != "We have two towers on the first line." {
				t.Errorf("unexpected text: %q", op.Text)
			}
			if op.ChatID != "42" || op.ReplyTo != "7" {
				t.Errorf("target not carried: %+v", op)
			}
		case bus.OpTyping:
			typings++
		}
	}
	if texts != 1 {
		t.Errorf("text ops = %d, want 1", texts)
	}
	if typings < 1 {
		t.Error("a typing indicator should precede the reply")
	}

	turns, _ := f.history.Read(ctx, "telegram:42")
	if len(turns) != 2 {
		t.Fatalf("history turns = %d, want 2", len(turns))
	}
	if turns[0].Role != memory.RoleUser || turns[1].Role != memory.RoleAssistant {
		t.Errorf("turn roles = %s, %s", turns[0].Role, turns[1].Role)
	}
	if turns[1].Content != backend.reply {
		t.Errorf("assistant turn = %q", turns[1].Content)
	}
}

func TestLoop_PhotoReply(t *testing.T) {
	backend := &scriptedBackend{
		statuses: []providers.RunStatus{providers.StatusCompleted},
		reply:    "[photo: https://x/tower.jpg]Orbi City, 34th floor",
	}
	f := newLoopFixture(t, backend, map[string]bool{"https://x/tower.jpg": true})

	f.loop.Handle(context.Background(), inbound("show me a photo"))

	var photo *bus.OutboundMessage
	for _, op := range drainOutbound(f.bus) {
		if op.Kind == bus.OpPhoto {
			op := op
			photo = &op
		}
	}
	if photo == nil {
		t.Fatal("expected a photo op")
	}
	if photo.URL != "https://x/tower.jpg" || photo.Caption != "Orbi City, 34th floor" {
		t.Errorf("unexpected photo op: %+v", photo)
	}
}

func TestLoop_FailureSendsEscalation(t *testing.T) {
	backend := &scriptedBackend{statuses: []providers.RunStatus{providers.StatusFailed}}
	f := newLoopFixture(t, backend, nil)

	f.loop.Handle(context.Background(), inbound("hello"))

	found := false
	for _, op := range drainOutbound(f.bus) {
		if op.Kind == bus.OpText && strings.Contains(op.Text, "@a4k5o6") {
			found = true
		}
	}
	if !found {
		t.Error("failure should send a fallback naming the escalation contact")
	}
}

func TestLoop_TimeoutSendsEscalation(t *testing.T) {
	backend := &scriptedBackend{} // never terminal
	f := newLoopFixture(t, backend, nil)

	f.loop.Handle(context.Background(), inbound("hello"))

	found := false
	for _, op := range drainOutbound(f.bus) {
		if op.Kind == bus.OpText && strings.Contains(op.Text, "longer than expected") {
			found = true
		}
	}
	if !found {
		t.Error("timeout should send the timeout fallback")
	}
}

func TestLoop_ResetCommandClearsHistory(t *testing.T) {
	backend := &scriptedBackend{
		statuses: []providers.RunStatus{providers.StatusCompleted},
		reply:    "sure",
	}
	f := newLoopFixture(t, backend, nil)
	ctx := context.Background()

	f.loop.Handle(ctx, inbound("first message"))
	if turns, _ := f.history.Read(ctx, "telegram:42"); len(turns) == 0 {
		t.Fatal("expected history before reset")
	}

	f.loop.Handle(ctx, inbound("/reset"))

	turns, _ := f.history.Read(ctx, "telegram:42")
	if len(turns) != 0 {
		t.Errorf("history after reset = %d turns, want 0", len(turns))
	}
	if backend.polls != 1 {
		t.Error("commands must not reach the backend")
	}
}

func TestLoop_StartCommandSkipsBackend(t *testing.T) {
	backend := &scriptedBackend{}
	f := newLoopFixture(t, backend, nil)

	f.loop.Handle(context.Background(), inbound("/start"))

	ops := drainOutbound(f.bus)
	if len(ops) == 0 || ops[0].Kind != bus.OpText || !strings.Contains(ops[0].Text, "Elaj") {
		t.Fatalf("expected a welcome text, got %+v", ops)
	}
	if backend.polls != 0 {
		t.Error("/start must not invoke the backend")
	}
}

func TestLoop_EmptyMessageIgnored(t *testing.T) {
	backend := &scriptedBackend{}
	f := newLoopFixture(t, backend, nil)

	f.loop.Handle(context.Background(), inbound("   "))

	if ops := drainOutbound(f.bus); len(ops) != 0 {
		t.Errorf("blank message should produce no ops, got %d", len(ops))
	}
}

func TestLoop_CheapProfileMergedFromMetadata(t *testing.T) {
	backend := &scriptedBackend{
		statuses: []providers.RunStatus{providers.StatusCompleted},
		reply:    "ok",
	}
	f := newLoopFixture(t, backend, nil)
	ctx := context.Background()

	f.loop.Handle(ctx, inbound("hi"))

	raw, ok, err := f.store.Get(ctx, memory.StoreProfile, "telegram:9")
	if err != nil || !ok {
		t.Fatalf("profile not stored: ok=%v err=%v", ok, err)
	}
	if !strings.Contains(raw, "Nino") || !strings.Contains(raw, "@nino") {
		t.Errorf("profile missing cheap attributes: %s", raw)
	}
	if !strings.Contains(raw, "last_fetch_ms") {
		t.Errorf("first turn should stamp the expensive fetch: %s", raw)
	}
}
