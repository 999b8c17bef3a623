package memory

import (
	"context"
	"fmt"
	"testing"
	"time"
)

// TestHistory_FIFOEviction verifies the bounded-history law: after many
// appends, read returns at most the cap, oldest evicted first.
func TestHistory_FIFOEviction(t *testing.T) {
	store := newTestStore(t)
	hist := NewHistoryStore(store, 20, time.Hour)
	ctx := context.Background()

	for i := 0; i < 25; i++ {
		err := hist.Append(ctx, "conv1", Turn{Role: RoleUser, Content: fmt.Sprintf("msg %d", i)})
		if err != nil {
			t.Fatalf("Append %d failed: %v", i, err)
		}
	}

	turns, err := hist.Read(ctx, "conv1")
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if len(turns) != 20 {
		t.Fatalf("retained %d turns, want 20", len(turns))
	}
	if turns[0].Content != "msg 5" {
		t.Errorf("oldest retained turn = %q, want %q", turns[0].Content, "msg 5")
	}
	if turns[19].Content != "msg 24" {
		t.Errorf("newest turn = %q, want %q", turns[19].Content, "msg 24")
	}
}

func TestHistory_ReadAbsentConversation(t *testing.T) {
	store := newTestStore(t)
	hist := NewHistoryStore(store, 20, time.Hour)

	turns, err := hist.Read(context.Background(), "nobody")
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if len(turns) != 0 {
		t.Errorf("absent conversation should read as empty, got %d turns", len(turns))
	}
}

func TestHistory_RolesAndOrderPreserved(t *testing.T) {
	store := newTestStore(t)
	hist := NewHistoryStore(store, 20, time.Hour)
	ctx := context.Background()

	_ = hist.Append(ctx, "conv1", Turn{Role: RoleUser, Content: "hi"})
	_ = hist.Append(ctx, "conv1", Turn{Role: RoleAssistant, Content: "hello"})

	turns, err := hist.Read(ctx, "conv1")
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if len(turns) != 2 {
		t.Fatalf("got %d turns, want 2", len(turns))
	}
	if turns[0].Role != RoleUser || turns[1].Role != RoleAssistant {
		t.Errorf("roles out of order: %s, %s", turns[0].Role, turns[1].Role)
	}
	if turns[0].Timestamp.IsZero() {
		t.Error("append should stamp a timestamp when none is given")
	}
}

// TestHistory_ClearThenRead covers the explicit reset path.
func TestHistory_ClearThenRead(t *testing.T) {
	store := newTestStore(t)
	hist := NewHistoryStore(store, 20, time.Hour)
	ctx := context.Background()

	_ = hist.Append(ctx, "conv1", Turn{Role: RoleUser, Content: "hi"})
	_ = hist.Append(ctx, "other", Turn{Role: RoleUser, Content: "hey"})

	if err := hist.Clear(ctx, "conv1"); err != nil {
		t.Fatalf("Clear failed: %v", err)
	}

	turns, err := hist.Read(ctx, "conv1")
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if len(turns) != 0 {
		t.Errorf("cleared conversation should read as empty, got %d turns", len(turns))
	}

	others, _ := hist.Read(ctx, "other")
	if len(others) != 1 {
		t.Error("clearing one conversation must not touch another")
	}
}
