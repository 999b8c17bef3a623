package memory

import (
	"context"
	"encoding/json"
	"time"

	"github.com/elajbot/elaj/pkg/logger"
)

// HistoryStore keeps the bounded, time-limited turn history per conversation.
// Every append trims to the newest maxTurns and refreshes the retention TTL.
type HistoryStore struct {
	store    *SQLiteStore
	maxTurns int
	ttl      time.Duration
}

func NewHistoryStore(store *SQLiteStore, maxTurns int, ttl time.Duration) *HistoryStore {
	if maxTurns <= 0 {
		maxTurns = 20
	}
	return &HistoryStore{store: store, maxTurns: maxTurns, ttl: ttl}
}

// Append records one turn. Insert and trim run as one transaction so a
// concurrent append from the same conversation cannot lose updates.
func (h *HistoryStore) Append(ctx context.Context, conversationKey string, turn Turn) error {
	if turn.Timestamp.IsZero() {
		turn.Timestamp = time.Now()
	}
	raw, err := json.Marshal(turn)
	if err != nil {
		return err
	}
	return h.store.Append(ctx, StoreHistory, conversationKey, string(raw), h.maxTurns, h.ttl)
}

// Read returns the retained turns, oldest first. An absent or expired
// conversation reads as empty. Undecodable records are skipped.
func (h *HistoryStore) Read(ctx context.Context, conversationKey string) ([]Turn, error) {
	raws, err := h.store.ReadList(ctx, StoreHistory, conversationKey)
	if err != nil {
		return nil, err
	}
	turns := make([]Turn, 0, len(raws))
	for _, raw := range raws {
		var t Turn
		if err := json.Unmarshal([]byte(raw), &t); err != nil {
			logger.WarnCF("history", "Skipping malformed turn record", map[string]interface{}{
				"conversation": conversationKey,
				"error":        err.Error(),
			})
			continue
		}
		turns = append(turns, t)
	}
	return turns, nil
}

// Clear deletes the conversation history immediately (explicit reset).
func (h *HistoryStore) Clear(ctx context.Context, conversationKey string) error {
	return h.store.ClearList(ctx, StoreHistory, conversationKey)
}
