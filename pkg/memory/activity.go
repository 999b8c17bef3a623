package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/elajbot/elaj/pkg/logger"
)

// ActivityLog reads the capped per-user event stream produced by the product
// surface and renders it into a short human-readable summary for the prompt.
// It also records events and budget samples on behalf of the events gateway.
type ActivityLog struct {
	store     *SQLiteStore
	maxEvents int
	ttl       time.Duration
}

func NewActivityLog(store *SQLiteStore, maxEvents int, ttl time.Duration) *ActivityLog {
	if maxEvents <= 0 {
		maxEvents = 12
	}
	return &ActivityLog{store: store, maxEvents: maxEvents, ttl: ttl}
}

// Record appends one event to the user's stream, trimming to the newest
// maxEvents, and bumps the per-type counter. Budget samples from the
// calculator are captured separately for aggregation.
func (a *ActivityLog) Record(ctx context.Context, userKey string, ev ActivityEvent) error {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}
	raw, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	if err := a.store.Append(ctx, StoreActivity, userKey, string(raw), a.maxEvents, a.ttl); err != nil {
		return err
	}
	if _, err := a.store.Incr(ctx, StoreStats, userKey+":"+ev.Type, 1, a.ttl); err != nil {
		logger.WarnCF("activity", "Event counter update failed", map[string]interface{}{
			"user": userKey, "type": ev.Type, "error": err.Error(),
		})
	}

	if ev.Type == "calculator_result" {
		if v, ok := parseBudgetValue(ev.Fields); ok {
			sample := BudgetSample{Value: v, Timestamp: ev.Timestamp}
			rawSample, err := json.Marshal(sample)
			if err == nil {
				if err := a.store.Append(ctx, StoreBudget, userKey, string(rawSample), a.maxEvents, a.ttl); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// Summarize renders the user's recent events as a bulleted block, folding in
// budget aggregates when samples exist. Returns "" when there is nothing to
// say; callers omit the section rather than treating that as an error.
func (a *ActivityLog) Summarize(ctx context.Context, userKey string) (string, error) {
	raws, err := a.store.ReadList(ctx, StoreActivity, userKey)
	if err != nil {
		return "", err
	}

	var lines []string
	for _, raw := range raws {
		var ev ActivityEvent
		if err := json.Unmarshal([]byte(raw), &ev); err != nil || ev.Type == "" {
			continue
		}
		if line := renderEvent(ev); line != "" {
			lines = append(lines, "- "+line)
		}
	}

	if budget := a.budgetLine(ctx, userKey); budget != "" {
		lines = append(lines, "- "+budget)
	}

	if len(lines) == 0 {
		return "", nil
	}
	return strings.Join(lines, "\n"), nil
}

// renderEvent maps a known event type to its fixed phrase. Unknown types
// render empty and are dropped from the summary.
func renderEvent(ev ActivityEvent) string {
	switch ev.Type {
	case "listing_view":
		if id := ev.Fields["listing_id"]; id != "" {
			return fmt.Sprintf("opened listing %s", id)
		}
		return "opened a listing"
	case "assistant_question":
		if q := ev.Fields["question"]; q != "" {
			return fmt.Sprintf("asked the assistant: %q", q)
		}
		return "asked the assistant a question"
	case "manager_contact":
		return "asked to speak with a human agent"
	case "calculator_open":
		return "opened the mortgage calculator"
	case "calculator_result":
		if v, ok := parseBudgetValue(ev.Fields); ok {
			return fmt.Sprintf("got a calculator estimate of %s", formatBudget(v))
		}
		return "used the mortgage calculator"
	case "page_view":
		if page := ev.Fields["page"]; page != "" {
			return fmt.Sprintf("visited the %s page", page)
		}
		return ""
	default:
		return ""
	}
}

func (a *ActivityLog) budgetLine(ctx context.Context, userKey string) string {
	raws, err := a.store.ReadList(ctx, StoreBudget, userKey)
	if err != nil || len(raws) == 0 {
		return ""
	}
	var min, max, sum float64
	count := 0
	for _, raw := range raws {
		var s BudgetSample
		if err := json.Unmarshal([]byte(raw), &s); err != nil {
			continue
		}
		if count == 0 || s.Value < min {
			min = s.Value
		}
		if count == 0 || s.Value > max {
			max = s.Value
		}
		sum += s.Value
		count++
	}
	if count == 0 {
		return ""
	}
	mean := sum / float64(count)
	return fmt.Sprintf("budget range explored: %s to %s (average %s)",
		formatBudget(min), formatBudget(max), formatBudget(mean))
}

func parseBudgetValue(fields map[string]string) (float64, bool) {
	raw, ok := fields["value"]
	if !ok || raw == "" {
		return 0, false
	}
	var v float64
	if _, err := fmt.Sscanf(raw, "%f", &v); err != nil {
		return 0, false
	}
	return v, true
}

func formatBudget(v float64) string {
	if v == float64(int64(v)) {
		return fmt.Sprintf("$%d", int64(v))
	}
	return fmt.Sprintf("$%.2f", v)
}
