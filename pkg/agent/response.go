// Elaj - conversational assistant for Adjara realty listings
// License: MIT
//
// Copyright (c) 2026 Elaj contributors

package agent

import (
	"context"
	"strings"
	"unicode/utf8"

	"github.com/elajbot/elaj/pkg/bus"
	"github.com/elajbot/elaj/pkg/logger"
	"github.com/elajbot/elaj/pkg/media"
)

const (
	photoMarker  = "[photo:"
	photosMarker = "[photos:"

	captionLimit = 1024
	textLimit    = 4096
	albumMax     = 10
)

type replyKind int

const (
	replyText replyKind = iota
	replyPhoto
	replyAlbum
)

type parsedReply struct {
	kind replyKind
	urls []string
	body string
}

// parseReply recognizes the optional leading media marker in an assistant
// reply. Everything after the marker (or the whole reply) is the body.
func parseReply(raw string) parsedReply {
	switch {
	case strings.HasPrefix(raw, photosMarker):
		field, body := splitMarker(raw, len(photosMarker))
		var urls []string
		for _, u := range strings.Split(field, "|") {
			if u = strings.TrimSpace(u); u != "" {
				urls = append(urls, u)
			}
		}
		return parsedReply{kind: replyAlbum, urls: urls, body: body}
	case strings.HasPrefix(raw, photoMarker):
		field, body := splitMarker(raw, len(photoMarker))
		return parsedReply{kind: replyPhoto, urls: []string{strings.TrimSpace(field)}, body: body}
	default:
		return parsedReply{kind: replyText, body: strings.TrimSpace(raw)}
	}
}

func splitMarker(raw string, prefixLen int) (field, body string) {
	rest := raw[prefixLen:]
	idx := strings.Index(rest, "]")
	if idx < 0 {
		return strings.TrimSpace(rest), ""
	}
	return strings.TrimSpace(rest[:idx]), strings.TrimSpace(rest[idx+1:])
}

// Target names where the resulting operations go.
type Target struct {
	Channel string
	ChatID  string
	ReplyTo string
}

// Dispatcher turns a raw assistant reply into an ordered list of channel
// operations, verifying media links and splitting oversized text.
type Dispatcher struct {
	verifier *media.Verifier

	// reselect asks the assistant to pick replacement photos when an album
	// came back with fewer than two usable links. It receives the failed
	// reply and the dead URLs so the corrective request can quote them.
	// Invoked at most once per reply; nil disables re-selection.
	reselect func(ctx context.Context, failedReply string, deadURLs []string) (string, bool)
}

func NewDispatcher(verifier *media.Verifier, reselect func(ctx context.Context, failedReply string, deadURLs []string) (string, bool)) *Dispatcher {
	return &Dispatcher{verifier: verifier, reselect: reselect}
}

// Build produces the channel operations for one reply. It never returns an
// error; an unusable reply degrades to plain text or to no operations at
// all, which the caller treats as a failed turn.
func (d *Dispatcher) Build(ctx context.Context, raw string, target Target) []bus.OutboundMessage {
	return d.build(ctx, raw, target, true)
}

func (d *Dispatcher) build(ctx context.Context, raw string, target Target, mayReselect bool) []bus.OutboundMessage {
	parsed := parseReply(raw)

	switch parsed.kind {
	case replyPhoto:
		valid := d.verifier.CheckBatch(ctx, parsed.urls)
		if len(valid) > 0 && valid[0] {
			return d.photoOps(parsed.urls[0], parsed.body, target)
		}
		logger.InfoCF("dispatch", "Photo link rejected, sending text only", map[string]interface{}{
			"chat": target.ChatID,
		})
		return d.textOps(parsed.body, target)

	case replyAlbum:
		urls := parsed.urls
		if len(urls) > albumMax {
			urls = urls[:albumMax]
		}
		valid := d.verifier.CheckBatch(ctx, urls)
		var kept, dead []string
		for i, u := range urls {
			if valid[i] {
				kept = append(kept, u)
			} else {
				dead = append(dead, u)
			}
		}
		if len(kept) >= 2 {
			return d.albumOps(kept, parsed.body, target)
		}
		if mayReselect && d.reselect != nil {
			logger.InfoCF("dispatch", "Album has too few usable links, asking for re-selection", map[string]interface{}{
				"chat": target.ChatID, "usable": len(kept),
			})
			if retry, ok := d.reselect(ctx, raw, dead); ok {
				return d.build(ctx, retry, target, false)
			}
		}
		if len(kept) == 1 {
			return d.photoOps(kept[0], parsed.body, target)
		}
		return d.textOps(parsed.body, target)

	default:
		return d.textOps(parsed.body, target)
	}
}

func (d *Dispatcher) photoOps(url, body string, target Target) []bus.OutboundMessage {
	caption, overflow := cutRunes(body, captionLimit)
	ops := []bus.OutboundMessage{{
		Kind:    bus.OpPhoto,
		Channel: target.Channel,
		ChatID:  target.ChatID,
		ReplyTo: target.ReplyTo,
		URL:     url,
		Caption: caption,
	}}
	return append(ops, d.textOps(overflow, target)...)
}

func (d *Dispatcher) albumOps(urls []string, body string, target Target) []bus.OutboundMessage {
	caption, overflow := cutRunes(body, captionLimit)
	items := make([]bus.AlbumItem, len(urls))
	for i, u := range urls {
		items[i] = bus.AlbumItem{URL: u}
	}
	// Channels render the caption from the first item only.
	items[0].Caption = caption

	ops := []bus.OutboundMessage{{
		Kind:    bus.OpAlbum,
		Channel: target.Channel,
		ChatID:  target.ChatID,
		ReplyTo: target.ReplyTo,
		Items:   items,
	}}
	return append(ops, d.textOps(overflow, target)...)
}

func (d *Dispatcher) textOps(body string, target Target) []bus.OutboundMessage {
	body = strings.TrimSpace(body)
	if body == "" {
		return nil
	}
	var ops []bus.OutboundMessage
	for _, chunk := range splitMessage(body, textLimit) {
		ops = append(ops, bus.OutboundMessage{
			Kind:    bus.OpText,
			Channel: target.Channel,
			ChatID:  target.ChatID,
			ReplyTo: target.ReplyTo,
			Text:    chunk,
		})
	}
	return ops
}

// splitMessage breaks text into chunks of at most limit runes, preferring
// newline boundaries, then spaces, then a hard cut on a rune boundary.
func splitMessage(text string, limit int) []string {
	if utf8.RuneCountInString(text) <= limit {
		return []string{text}
	}

	var chunks []string
	for utf8.RuneCountInString(text) > limit {
		window, _ := cutRunes(text, limit)
		cut := strings.LastIndex(window, "\n")
		if cut <= 0 {
			cut = strings.LastIndex(window, " ")
		}
		if cut <= 0 {
			cut = len(window)
		}
		chunks = append(chunks, strings.TrimSpace(text[:cut]))
		text = strings.TrimSpace(text[cut:])
	}
	if text != "" {
		chunks = append(chunks, text)
	}
	return chunks
}

// cutRunes splits s after at most limit runes. Limits count characters, not
// bytes; most replies are Cyrillic and a byte cut would land mid-rune.
func cutRunes(s string, limit int) (head, tail string) {
	n := 0
	for i := range s {
		if n == limit {
			return s[:i], s[i:]
		}
		n++
	}
	return s, ""
}
