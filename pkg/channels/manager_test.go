package channels

import (
	"context"
	"errors"
	"testing"

	"github.com/elajbot/elaj/pkg/bus"
)

type fakeChannel struct {
	name     string
	failNext bool
	calls    []string
	texts    []string
}

func (f *fakeChannel) Name() string                { return f.name }
func (f *fakeChannel) Start(context.Context) error { return nil }
func (f *fakeChannel) Stop() error                 { return nil }

func (f *fakeChannel) SendText(_ context.Context, chatID, text, replyTo string) error {
	f.calls = append(f.calls, "text")
	f.texts = append(f.texts, text)
	return f.maybeFail()
}

func (f *fakeChannel) SendPhoto(_ context.Context, chatID, url, caption, replyTo string) error {
	f.calls = append(f.calls, "photo")
	return f.maybeFail()
}

func (f *fakeChannel) SendAlbum(_ context.Context, chatID string, items []bus.AlbumItem, replyTo string) error {
	f.calls = append(f.calls, "album")
	return f.maybeFail()
}

func (f *fakeChannel) SendTyping(_ context.Context, chatID string) error {
	f.calls = append(f.calls, "typing")
	return f.maybeFail()
}

func (f *fakeChannel) maybeFail() error {
	if f.failNext {
		f.failNext = false
		return errors.New("send rejected")
	}
	return nil
}

func TestManager_ExecutesOperationKinds(t *testing.T) {
	b := bus.NewMessageBus()
	defer b.Close()
	ch := &fakeChannel{name: "telegram"}
	m := NewManager(b)
	m.Register(ch)
	ctx := context.Background()

	m.Execute(ctx, bus.OutboundMessage{Kind: bus.OpTyping, Channel: "telegram", ChatID: "1"})
	m.Execute(ctx, bus.OutboundMessage{Kind: bus.OpText, Channel: "telegram", ChatID: "1", Text: "hi"})
	m.Execute(ctx, bus.OutboundMessage{Kind: bus.OpPhoto, Channel: "telegram", ChatID: "1", URL: "u"})
	m.Execute(ctx, bus.OutboundMessage{Kind: bus.OpAlbum, Channel: "telegram", ChatID: "1", Items: []bus.AlbumItem{{URL: "u"}}})

	want := []string{"typing", "text", "photo", "album"}
	if len(ch.calls) != len(want) {
		t.Fatalf("calls = %v, want %v", ch.calls, want)
	}
	for i := range want {
		if ch.calls[i] != want[i] {
			t.Errorf("call %d = %s, want %s", i, ch.calls[i], want[i])
		}
	}
}

// TestManager_FailedSendApologizesOnce: one failed photo send produces one
// apology text, and a failing apology is swallowed.
func TestManager_FailedSendApologizesOnce(t *testing.T) {
	b := bus.NewMessageBus()
	defer b.Close()
	ch := &fakeChannel{name: "telegram", failNext: true}
	m := NewManager(b)
	m.Register(ch)

	m.Execute(context.Background(), bus.OutboundMessage{Kind: bus.OpPhoto, Channel: "telegram", ChatID: "1", URL: "u"})

	if len(ch.calls) != 2 || ch.calls[0] != "photo" || ch.calls[1] != "text" {
		t.Fatalf("calls = %v, want failed photo then apology text", ch.calls)
	}
	if ch.texts[0] != sendApology {
		t.Errorf("apology text = %q", ch.texts[0])
	}
}

func TestManager_FailedTypingIsSilent(t *testing.T) {
	b := bus.NewMessageBus()
	defer b.Close()
	ch := &fakeChannel{name: "telegram", failNext: true}
	m := NewManager(b)
	m.Register(ch)

	m.Execute(context.Background(), bus.OutboundMessage{Kind: bus.OpTyping, Channel: "telegram", ChatID: "1"})

	if len(ch.calls) != 1 {
		t.Fatalf("calls = %v, typing failure should not apologize", ch.calls)
	}
}

func TestManager_UnknownChannelDropped(t *testing.T) {
	b := bus.NewMessageBus()
	defer b.Close()
	m := NewManager(b)
	m.Register(&fakeChannel{name: "telegram"})

	// Must not panic.
	m.Execute(context.Background(), bus.OutboundMessage{Kind: bus.OpText, Channel: "signal", ChatID: "1"})
}

func TestManager_StartAllRequiresChannels(t *testing.T) {
	b := bus.NewMessageBus()
	defer b.Close()
	m := NewManager(b)

	if err := m.StartAll(context.Background()); err == nil {
		t.Error("StartAll with no channels should fail")
	}
}

func TestAllowList(t *testing.T) {
	var empty AllowList
	if !empty.Allows("123", "@nino") {
		t.Error("empty allow list should allow everyone")
	}

	list := AllowList{"123", "@nino"}
	if !list.Allows("123", "") {
		t.Error("numeric id should match")
	}
	if !list.Allows("999", "nino") {
		t.Error("handle should match without @ prefix")
	}
	if !list.Allows("999", "@NINO") {
		t.Error("handle match should be case insensitive")
	}
	if list.Allows("999", "@other") {
		t.Error("unlisted sender should be rejected")
	}
}
