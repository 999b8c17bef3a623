package memory

import "time"

// Store namespaces. Every persisted key is "<namespace>:<identity>".
const (
	StoreHistory  = "history"
	StoreProfile  = "profile"
	StoreActivity = "activity"
	StoreBudget   = "budget"
	StoreImage    = "imgcheck"
	StoreContext  = "ctxhash"
	StoreStats    = "stats"
)

// Turn roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Turn is one role-labeled message in a conversation. Immutable once written.
type Turn struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"ts"`
}

// BirthParts holds the optional birth-date attributes fetched lazily.
type BirthParts struct {
	Day   int `json:"day,omitempty"`
	Month int `json:"month,omitempty"`
	Year  int `json:"year,omitempty"`
}

// Profile is the durable per-user attribute record. Cheap attributes are
// refreshed every turn, expensive ones (Bio, Birth) at most once per
// refresh interval.
type Profile struct {
	Name   string     `json:"name,omitempty"`
	Handle string     `json:"handle,omitempty"`
	Locale string     `json:"locale,omitempty"`
	Bio    string     `json:"bio,omitempty"`
	Birth  BirthParts `json:"birth,omitempty"`

	LastSeenMS  int64 `json:"last_seen_ms,omitempty"`
	LastFetchMS int64 `json:"last_fetch_ms,omitempty"`
}

// ActivityEvent is an out-of-band product-interaction signal, consumed
// read-only by the summarizer.
type ActivityEvent struct {
	Type      string            `json:"event_type"`
	Fields    map[string]string `json:"fields,omitempty"`
	Timestamp time.Time         `json:"ts"`
}

// BudgetSample is one numeric observation from the pricing calculator.
type BudgetSample struct {
	Value     float64   `json:"value"`
	Timestamp time.Time `json:"ts"`
}
