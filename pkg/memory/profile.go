package memory

import (
	"context"
	"encoding/json"
	"time"
)

// ProfileStore keeps the durable per-user attribute record. Cheap attributes
// overwrite on every merge; the expensive fetch (bio, birth date) is rate
// limited by refreshEvery so the upstream directory is not hammered.
type ProfileStore struct {
	store        *SQLiteStore
	ttl          time.Duration
	refreshEvery time.Duration
	now          func() time.Time
}

func NewProfileStore(store *SQLiteStore, ttl, refreshEvery time.Duration) *ProfileStore {
	return &ProfileStore{
		store:        store,
		ttl:          ttl,
		refreshEvery: refreshEvery,
		now:          time.Now,
	}
}

// Get returns the stored profile. Missing or expired profiles read as an
// empty record with ok=false.
func (p *ProfileStore) Get(ctx context.Context, userKey string) (Profile, bool, error) {
	raw, ok, err := p.store.Get(ctx, StoreProfile, userKey)
	if err != nil || !ok {
		return Profile{}, false, err
	}
	var prof Profile
	if err := json.Unmarshal([]byte(raw), &prof); err != nil {
		// A corrupt record is treated as absent so the next merge rebuilds it.
		return Profile{}, false, nil
	}
	return prof, true, nil
}

// Merge folds fresh attributes into the stored profile and refreshes the
// retention TTL. Empty incoming fields never clobber known values.
func (p *ProfileStore) Merge(ctx context.Context, userKey string, incoming Profile) (Profile, error) {
	current, _, err := p.Get(ctx, userKey)
	if err != nil {
		return Profile{}, err
	}

	if incoming.Name != "" {
		current.Name = incoming.Name
	}
	if incoming.Handle != "" {
		current.Handle = incoming.Handle
	}
	if incoming.Locale != "" {
		current.Locale = incoming.Locale
	}
	if incoming.Bio != "" {
		current.Bio = incoming.Bio
	}
	if incoming.Birth != (BirthParts{}) {
		current.Birth = incoming.Birth
	}
	if incoming.LastFetchMS != 0 {
		current.LastFetchMS = incoming.LastFetchMS
	}
	current.LastSeenMS = p.now().UnixMilli()

	if err := p.put(ctx, userKey, current); err != nil {
		return Profile{}, err
	}
	return current, nil
}

// ShouldRefreshExpensive reports whether the rate-limited attributes are due
// another upstream fetch. A never-fetched profile is always due.
func (p *ProfileStore) ShouldRefreshExpensive(prof Profile) bool {
	if prof.LastFetchMS == 0 {
		return true
	}
	last := time.UnixMilli(prof.LastFetchMS)
	return p.now().Sub(last) >= p.refreshEvery
}

// RecordExpensiveFetch stamps the fetch time even when the fetch yielded
// nothing, so an empty upstream answer still waits out the full interval.
func (p *ProfileStore) RecordExpensiveFetch(ctx context.Context, userKey string, fetched Profile) (Profile, error) {
	fetched.LastFetchMS = p.now().UnixMilli()
	return p.Merge(ctx, userKey, fetched)
}

func (p *ProfileStore) put(ctx context.Context, userKey string, prof Profile) error {
	raw, err := json.Marshal(prof)
	if err != nil {
		return err
	}
	return p.store.Set(ctx, StoreProfile, userKey, string(raw), p.ttl)
}
