// Elaj - conversational assistant for Adjara realty listings
// License: MIT
//
// Copyright (c) 2026 Elaj contributors

package channels

import (
	"context"
	"strings"

	"github.com/elajbot/elaj/pkg/bus"
)

// Channel is one messaging surface. Implementations publish inbound messages
// on the bus and execute the send operations the dispatcher produced.
type Channel interface {
	Name() string
	Start(ctx context.Context) error
	Stop() error

	SendText(ctx context.Context, chatID, text, replyTo string) error
	SendPhoto(ctx context.Context, chatID, url, caption, replyTo string) error
	SendAlbum(ctx context.Context, chatID string, items []bus.AlbumItem, replyTo string) error
	SendTyping(ctx context.Context, chatID string) error
}

// AllowList filters senders. Entries are numeric user IDs or @handles; an
// empty list allows everyone.
type AllowList []string

func (a AllowList) Allows(senderID, handle string) bool {
	if len(a) == 0 {
		return true
	}
	for _, entry := range a {
		if entry == senderID {
			return true
		}
		if handle != "" && strings.EqualFold(strings.TrimPrefix(entry, "@"), strings.TrimPrefix(handle, "@")) {
			return true
		}
	}
	return false
}
