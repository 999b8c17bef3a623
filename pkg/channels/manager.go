// Elaj - conversational assistant for Adjara realty listings
// License: MIT
//
// Copyright (c) 2026 Elaj contributors

package channels

import (
	"context"
	"fmt"

	"github.com/elajbot/elaj/pkg/bus"
	"github.com/elajbot/elaj/pkg/logger"
)

const sendApology = "Sorry, I could not deliver part of the answer. Please try again."

// Manager owns the registered channels and executes outbound operations in
// the order the dispatcher emitted them.
type Manager struct {
	channels map[string]Channel
	bus      *bus.MessageBus
}

func NewManager(b *bus.MessageBus) *Manager {
	return &Manager{
		channels: make(map[string]Channel),
		bus:      b,
	}
}

func (m *Manager) Register(ch Channel) {
	m.channels[ch.Name()] = ch
}

func (m *Manager) Channels() []string {
	names := make([]string, 0, len(m.channels))
	for name := range m.channels {
		names = append(names, name)
	}
	return names
}

func (m *Manager) StartAll(ctx context.Context) error {
	if len(m.channels) == 0 {
		return fmt.Errorf("no channels configured")
	}
	for name, ch := range m.channels {
		if err := ch.Start(ctx); err != nil {
			return fmt.Errorf("start %s: %w", name, err)
		}
	}
	go m.dispatchOutbound(ctx)
	return nil
}

func (m *Manager) StopAll() {
	for name, ch := range m.channels {
		if err := ch.Stop(); err != nil {
			logger.WarnCF("channels", "Channel stop failed", map[string]interface{}{
				"channel": name, "error": err.Error(),
			})
		}
	}
}

func (m *Manager) dispatchOutbound(ctx context.Context) {
	for {
		op, ok := m.bus.SubscribeOutbound(ctx)
		if !ok {
			return
		}
		m.Execute(ctx, op)
	}
}

// Execute runs one send operation. A failed send gets one best-effort
// apology; if that also fails the error is logged and swallowed, since
// there is no channel left to report to.
func (m *Manager) Execute(ctx context.Context, op bus.OutboundMessage) {
	ch, ok := m.channels[op.Channel]
	if !ok {
		logger.ErrorCF("channels", "Operation for unknown channel dropped", map[string]interface{}{
			"channel": op.Channel,
		})
		return
	}

	err := m.send(ctx, ch, op)
	if err == nil {
		return
	}
	logger.ErrorCF("channels", "Send failed", map[string]interface{}{
		"channel": op.Channel, "chat": op.ChatID, "kind": string(op.Kind), "error": err.Error(),
	})
	if op.Kind == bus.OpTyping {
		// Not user-visible, nothing to apologize for.
		return
	}
	if err := ch.SendText(ctx, op.ChatID, sendApology, ""); err != nil {
		logger.ErrorCF("channels", "Apology send failed too", map[string]interface{}{
			"channel": op.Channel, "chat": op.ChatID, "error": err.Error(),
		})
	}
}

func (m *Manager) send(ctx context.Context, ch Channel, op bus.OutboundMessage) error {
	switch op.Kind {
	case bus.OpText:
		return ch.SendText(ctx, op.ChatID, op.Text, op.ReplyTo)
	case bus.OpPhoto:
		return ch.SendPhoto(ctx, op.ChatID, op.URL, op.Caption, op.ReplyTo)
	case bus.OpAlbum:
		return ch.SendAlbum(ctx, op.ChatID, op.Items, op.ReplyTo)
	case bus.OpTyping:
		return ch.SendTyping(ctx, op.ChatID)
	default:
		return fmt.Errorf("unknown operation kind %q", op.Kind)
	}
}
