// Elaj - conversational assistant for Adjara realty listings
// License: MIT
//
// Copyright (c) 2026 Elaj contributors

package media

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"strings"
	"time"

	"github.com/elajbot/elaj/pkg/logger"
	"github.com/elajbot/elaj/pkg/memory"
)

// MaxBatch caps how many URLs one check processes; the album size cap makes
// anything larger pointless.
const MaxBatch = 10

// Prober answers whether a URL points at a fetchable image. Network errors
// report invalid, never a distinct error.
type Prober interface {
	ProbeImage(ctx context.Context, url string) bool
}

// HTTPProber probes with a HEAD request and accepts image content types.
type HTTPProber struct {
	client *http.Client
}

func NewHTTPProber() *HTTPProber {
	return &HTTPProber{client: &http.Client{Timeout: 10 * time.Second}}
}

func (p *HTTPProber) ProbeImage(ctx context.Context, url string) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
	if err != nil {
		return false
	}
	resp, err := p.client.Do(req)
	if err != nil {
		logger.DebugCF("media", "Image probe failed", map[string]interface{}{
			"url": url, "error": err.Error(),
		})
		return false
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return false
	}
	return strings.HasPrefix(resp.Header.Get("Content-Type"), "image/")
}

// Verifier validates candidate media URLs, memoizing results so identical
// URLs across users and turns cost one probe per TTL window. Negative
// results are cached too; a dead link stays dead for a while.
type Verifier struct {
	store  *memory.SQLiteStore
	prober Prober
	ttl    time.Duration
}

func NewVerifier(store *memory.SQLiteStore, prober Prober, ttl time.Duration) *Verifier {
	if prober == nil {
		prober = NewHTTPProber()
	}
	return &Verifier{store: store, prober: prober, ttl: ttl}
}

// CheckBatch reports validity per URL, preserving input order. At most
// MaxBatch URLs are considered; the rest are reported invalid.
func (v *Verifier) CheckBatch(ctx context.Context, urls []string) []bool {
	results := make([]bool, len(urls))
	for i, url := range urls {
		if i >= MaxBatch {
			break
		}
		results[i] = v.check(ctx, url)
	}
	return results
}

func (v *Verifier) check(ctx context.Context, url string) bool {
	if url == "" {
		return false
	}
	key := urlHash(url)

	if cached, ok, err := v.store.Get(ctx, memory.StoreImage, key); err == nil && ok {
		return cached == "1"
	}

	valid := v.prober.ProbeImage(ctx, url)

	cacheVal := "0"
	if valid {
		cacheVal = "1"
	}
	if err := v.store.Set(ctx, memory.StoreImage, key, cacheVal, v.ttl); err != nil {
		logger.WarnCF("media", "Image cache write failed", map[string]interface{}{
			"url": url, "error": err.Error(),
		})
	}
	return valid
}

// urlHash keys the cache by content hash so the same URL shares one entry
// regardless of who asked.
func urlHash(url string) string {
	sum := sha256.Sum256([]byte(url))
	return hex.EncodeToString(sum[:])
}
