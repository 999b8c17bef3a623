package memory

import (
	"context"
	"testing"
	"time"
)

func newTestProfileStore(t *testing.T) *ProfileStore {
	t.Helper()
	return NewProfileStore(newTestStore(t), 365*24*time.Hour, 3*24*time.Hour)
}

func TestProfile_MergePreservesExistingOnEmpty(t *testing.T) {
	ps := newTestProfileStore(t)
	ctx := context.Background()

	if _, err := ps.Merge(ctx, "u1", Profile{Name: "Giorgi", Locale: "ka"}); err != nil {
		t.Fatalf("Merge failed: %v", err)
	}
	// An empty Name must not clobber the stored one.
	got, err := ps.Merge(ctx, "u1", Profile{Locale: "en"})
	if err != nil {
		t.Fatalf("Merge failed: %v", err)
	}

	if got.Name != "Giorgi" {
		t.Errorf("Name = %q, want Giorgi (empty merge must preserve)", got.Name)
	}
	if got.Locale != "en" {
		t.Errorf("Locale = %q, want en (non-empty merge must overwrite)", got.Locale)
	}
	if got.LastSeenMS == 0 {
		t.Error("Merge should always refresh last-seen")
	}
}

func TestProfile_MergeIdempotent(t *testing.T) {
	ps := newTestProfileStore(t)
	ctx := context.Background()
	in := Profile{Name: "Nino", Handle: "@nino", Bio: "looking for a flat"}

	first, err := ps.Merge(ctx, "u1", in)
	if err != nil {
		t.Fatalf("Merge failed: %v", err)
	}
	second, err := ps.Merge(ctx, "u1", in)
	if err != nil {
		t.Fatalf("Merge failed: %v", err)
	}

	first.LastSeenMS, second.LastSeenMS = 0, 0
	if first != second {
		t.Errorf("repeated merge changed the record: %+v vs %+v", first, second)
	}
}

func TestProfile_ShouldRefreshExpensive(t *testing.T) {
	ps := newTestProfileStore(t)
	now := time.Now()
	ps.now = func() time.Time { return now }

	if !ps.ShouldRefreshExpensive(Profile{}) {
		t.Error("never-fetched profile should be due a refresh")
	}

	fresh := Profile{LastFetchMS: now.Add(-time.Hour).UnixMilli()}
	if ps.ShouldRefreshExpensive(fresh) {
		t.Error("recently fetched profile should not be due a refresh")
	}

	stale := Profile{LastFetchMS: now.Add(-4 * 24 * time.Hour).UnixMilli()}
	if !ps.ShouldRefreshExpensive(stale) {
		t.Error("profile past the refresh interval should be due a refresh")
	}
}

// TestProfile_EmptyFetchStillStamps verifies the back-off rule: a lookup that
// found nothing still stamps the fetch time so it is not retried every turn.
func TestProfile_EmptyFetchStillStamps(t *testing.T) {
	ps := newTestProfileStore(t)
	ctx := context.Background()

	got, err := ps.RecordExpensiveFetch(ctx, "u1", Profile{})
	if err != nil {
		t.Fatalf("RecordExpensiveFetch failed: %v", err)
	}
	if got.LastFetchMS == 0 {
		t.Fatal("empty fetch should still stamp the fetch time")
	}
	if ps.ShouldRefreshExpensive(got) {
		t.Error("freshly stamped profile should not be due another refresh")
	}
}

func TestProfile_GetAbsent(t *testing.T) {
	ps := newTestProfileStore(t)

	_, ok, err := ps.Get(context.Background(), "nobody")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if ok {
		t.Error("absent profile should report ok=false")
	}
}
