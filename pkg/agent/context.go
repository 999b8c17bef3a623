// Elaj - conversational assistant for Adjara realty listings
// License: MIT
//
// Copyright (c) 2026 Elaj contributors

package agent

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/elajbot/elaj/pkg/logger"
	"github.com/elajbot/elaj/pkg/memory"
)

const (
	profileHeader  = "USER PROFILE:"
	activityHeader = "RECENT ACTIVITY:"
	historyHeader  = "CONVERSATION:"
	questionHeader = "CURRENT QUESTION:"
)

// Assembler builds the single prompt string sent to the backend each turn.
// It owns no state of its own; everything comes from the stores.
type Assembler struct {
	history  *memory.HistoryStore
	profiles *memory.ProfileStore
	activity *memory.ActivityLog
	store    *memory.SQLiteStore

	budgetChars int
	promptTurns int
	lookback    int
	snapshotTTL time.Duration
}

func NewAssembler(history *memory.HistoryStore, profiles *memory.ProfileStore, activity *memory.ActivityLog, store *memory.SQLiteStore, budgetChars, promptTurns, lookback int, snapshotTTL time.Duration) *Assembler {
	return &Assembler{
		history:     history,
		profiles:    profiles,
		activity:    activity,
		store:       store,
		budgetChars: budgetChars,
		promptTurns: promptTurns,
		lookback:    lookback,
		snapshotTTL: snapshotTTL,
	}
}

// snapshot records the fingerprint of the last profile summary sent and when
// it went out, so unchanged profiles are not repeated every turn.
type snapshot struct {
	Hash   string `json:"hash"`
	SentMS int64  `json:"sent_ms"`
}

// Assemble produces the prompt for one inbound message. Store failures
// degrade to empty sections; the current message always makes it through.
func (a *Assembler) Assemble(ctx context.Context, conversationKey, userKey, current string) string {
	prof, _, err := a.profiles.Get(ctx, userKey)
	if err != nil {
		logger.WarnCF("context", "Profile read failed, assembling without it", map[string]interface{}{
			"user": userKey, "error": err.Error(),
		})
	}
	turns, err := a.history.Read(ctx, conversationKey)
	if err != nil {
		logger.WarnCF("context", "History read failed, assembling without it", map[string]interface{}{
			"conversation": conversationKey, "error": err.Error(),
		})
		turns = nil
	}
	activity, err := a.activity.Summarize(ctx, userKey)
	if err != nil {
		logger.WarnCF("context", "Activity read failed, assembling without it", map[string]interface{}{
			"user": userKey, "error": err.Error(),
		})
		activity = ""
	}

	profileBlock := ""
	summary := ProfileSummary(prof)
	if summary != "" && a.shouldSendProfile(ctx, userKey, summary, turns) {
		profileBlock = profileHeader + "\n" + summary
	}

	if len(turns) > a.promptTurns {
		turns = turns[len(turns)-a.promptTurns:]
	}

	prompt := a.render(profileBlock, activity, turns, current)

	// Over budget: drop oldest history first, then the activity summary.
	// The current question and a changed profile block are never dropped.
	for len(prompt) > a.budgetChars && len(turns) > 0 {
		turns = turns[1:]
		prompt = a.render(profileBlock, activity, turns, current)
	}
	if len(prompt) > a.budgetChars && activity != "" {
		activity = ""
		prompt = a.render(profileBlock, activity, turns, current)
	}

	if profileBlock != "" {
		a.recordProfileSent(ctx, userKey, summary)
	}
	return prompt
}

func (a *Assembler) render(profileBlock, activity string, turns []memory.Turn, current string) string {
	var b strings.Builder

	if profileBlock != "" {
		b.WriteString(profileBlock)
		b.WriteString("\n\n")
	}
	if activity != "" {
		b.WriteString(activityHeader)
		b.WriteString("\n")
		b.WriteString(activity)
		b.WriteString("\n\n")
	}
	if len(turns) > 0 {
		b.WriteString(historyHeader)
		b.WriteString("\n")
		for _, t := range turns {
			b.WriteString(roleLabel(t.Role))
			b.WriteString(": ")
			b.WriteString(t.Content)
			b.WriteString("\n")
		}
		b.WriteString("\n")
	}
	b.WriteString(questionHeader)
	b.WriteString("\n")
	b.WriteString(current)

	return b.String()
}

// shouldSendProfile includes the summary when its fingerprint changed since
// the last send, or when nothing was sent within the lookback window of
// recent turns.
func (a *Assembler) shouldSendProfile(ctx context.Context, userKey, summary string, turns []memory.Turn) bool {
	raw, ok, err := a.store.Get(ctx, memory.StoreContext, userKey)
	if err != nil || !ok {
		return true
	}
	var snap snapshot
	if err := json.Unmarshal([]byte(raw), &snap); err != nil {
		return true
	}
	if snap.Hash != fingerprint(summary) {
		return true
	}

	sentAt := time.UnixMilli(snap.SentMS)
	since := 0
	for _, t := range turns {
		if t.Timestamp.After(sentAt) {
			since++
		}
	}
	return since >= a.lookback
}

func (a *Assembler) recordProfileSent(ctx context.Context, userKey, summary string) {
	raw, err := json.Marshal(snapshot{Hash: fingerprint(summary), SentMS: time.Now().UnixMilli()})
	if err != nil {
		return
	}
	if err := a.store.Set(ctx, memory.StoreContext, userKey, string(raw), a.snapshotTTL); err != nil {
		logger.WarnCF("context", "Snapshot write failed", map[string]interface{}{
			"user": userKey, "error": err.Error(),
		})
	}
}

// ProfileSummary renders the profile block body. Empty profiles render
// empty. Last-seen is rendered at day granularity so the fingerprint stays
// stable across turns within the same day.
func ProfileSummary(prof memory.Profile) string {
	var lines []string
	if prof.Name != "" {
		lines = append(lines, "Name: "+prof.Name)
	}
	if prof.Handle != "" {
		lines = append(lines, "Handle: "+prof.Handle)
	}
	if prof.Locale != "" {
		lines = append(lines, "Locale: "+prof.Locale)
	}
	if prof.LastSeenMS != 0 {
		lines = append(lines, "Last seen: "+time.UnixMilli(prof.LastSeenMS).UTC().Format("2006-01-02"))
	}
	if prof.Bio != "" {
		lines = append(lines, "About: "+prof.Bio)
	}
	if prof.Birth != (memory.BirthParts{}) {
		lines = append(lines, "Birth date: "+renderBirth(prof.Birth))
	}
	return strings.Join(lines, "\n")
}

func renderBirth(b memory.BirthParts) string {
	if b.Year > 0 && b.Month > 0 && b.Day > 0 {
		return fmt.Sprintf("%04d-%02d-%02d", b.Year, b.Month, b.Day)
	}
	if b.Month > 0 && b.Day > 0 {
		return fmt.Sprintf("%02d-%02d", b.Month, b.Day)
	}
	if b.Year > 0 {
		return fmt.Sprintf("%04d", b.Year)
	}
	return ""
}

func roleLabel(role string) string {
	if role == memory.RoleAssistant {
		return "Assistant"
	}
	return "User"
}

func fingerprint(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}
