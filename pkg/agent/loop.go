// Elaj - conversational assistant for Adjara realty listings
// License: MIT
//
// Copyright (c) 2026 Elaj contributors

package agent

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/elajbot/elaj/pkg/bus"
	"github.com/elajbot/elaj/pkg/logger"
	"github.com/elajbot/elaj/pkg/memory"
)

// ProfileFetcher looks up the rate-limited profile attributes (bio, birth
// date) from whatever directory the deployment has. The zero fetcher finds
// nothing, which still counts as a completed fetch for back-off purposes.
type ProfileFetcher interface {
	FetchExpensive(ctx context.Context, userKey string) (memory.Profile, error)
}

// NoopFetcher is used when no directory is configured.
type NoopFetcher struct{}

func (NoopFetcher) FetchExpensive(context.Context, string) (memory.Profile, error) {
	return memory.Profile{}, nil
}

// Loop consumes inbound messages, runs the full turn pipeline, and publishes
// the resulting channel operations.
type Loop struct {
	bus        *bus.MessageBus
	history    *memory.HistoryStore
	profiles   *memory.ProfileStore
	assembler  *Assembler
	invoker    *Invoker
	dispatcher *Dispatcher
	fetcher    ProfileFetcher

	escalationContact string

	// OnTurn, when set before Run, observes each finished turn's outcome.
	OnTurn func(outcome string)

	wg sync.WaitGroup
}

func NewLoop(b *bus.MessageBus, history *memory.HistoryStore, profiles *memory.ProfileStore, assembler *Assembler, invoker *Invoker, dispatcher *Dispatcher, fetcher ProfileFetcher, escalationContact string) *Loop {
	if fetcher == nil {
		fetcher = NoopFetcher{}
	}
	return &Loop{
		bus:               b,
		history:           history,
		profiles:          profiles,
		assembler:         assembler,
		invoker:           invoker,
		dispatcher:        dispatcher,
		fetcher:           fetcher,
		escalationContact: escalationContact,
	}
}

// Run consumes until the inbound channel closes. Each message is handled on
// its own goroutine so one slow invocation does not stall other users.
func (l *Loop) Run(ctx context.Context) {
	logger.InfoC("agent", "Agent loop started")
	for {
		msg, ok := l.bus.ConsumeInbound(ctx)
		if !ok {
			break
		}
		m := msg
		l.wg.Add(1)
		go func() {
			defer l.wg.Done()
			l.Handle(ctx, m)
		}()
	}
	l.wg.Wait()
	logger.InfoC("agent", "Agent loop stopped")
}

// Handle runs one full turn for one inbound message.
func (l *Loop) Handle(ctx context.Context, msg bus.InboundMessage) {
	conversationKey := msg.Channel + ":" + msg.ChatID
	userKey := msg.Channel + ":" + msg.SenderID
	target := Target{Channel: msg.Channel, ChatID: msg.ChatID, ReplyTo: msg.MessageID}

	text := strings.TrimSpace(msg.Content)
	if text == "" {
		return
	}
	if l.handleCommand(ctx, text, conversationKey, target) {
		return
	}

	l.refreshProfile(ctx, userKey, msg)

	prompt := l.assembler.Assemble(ctx, conversationKey, userKey, text)

	turnID := uuid.New().String()
	logger.InfoCF("agent", "Invoking assistant", map[string]interface{}{
		"turn": turnID, "conversation": conversationKey, "prompt_chars": len(prompt),
	})

	outcome, reply := l.invoker.Run(ctx, prompt, func() {
		l.bus.PublishOutbound(bus.OutboundMessage{
			Kind:    bus.OpTyping,
			Channel: msg.Channel,
			ChatID:  msg.ChatID,
		})
	})

	var ops []bus.OutboundMessage
	var assistantTurn string
	switch outcome {
	case OutcomeCompleted:
		ops = l.dispatcher.Build(ctx, reply, target)
		assistantTurn = reply
		if len(ops) == 0 {
			ops = l.dispatcher.textOps(l.fallbackText(), target)
			assistantTurn = l.fallbackText()
		}
	case OutcomeTimedOut:
		ops = l.dispatcher.textOps(l.timeoutText(), target)
		assistantTurn = l.timeoutText()
	default:
		ops = l.dispatcher.textOps(l.fallbackText(), target)
		assistantTurn = l.fallbackText()
	}

	for _, op := range ops {
		l.bus.PublishOutbound(op)
	}

	logger.InfoCF("agent", "Turn finished", map[string]interface{}{
		"turn": turnID, "outcome": outcome.String(), "ops": len(ops),
	})
	if l.OnTurn != nil {
		l.OnTurn(outcome.String())
	}

	// History is written after dispatch so a crashed turn is retried with
	// the same context rather than a half-recorded one.
	now := time.Now()
	if err := l.history.Append(ctx, conversationKey, memory.Turn{Role: memory.RoleUser, Content: text, Timestamp: now}); err != nil {
		logger.ErrorCF("agent", "History append failed", map[string]interface{}{
			"turn": turnID, "error": err.Error(),
		})
	}
	if err := l.history.Append(ctx, conversationKey, memory.Turn{Role: memory.RoleAssistant, Content: assistantTurn, Timestamp: now.Add(time.Millisecond)}); err != nil {
		logger.ErrorCF("agent", "History append failed", map[string]interface{}{
			"turn": turnID, "error": err.Error(),
		})
	}
}

func (l *Loop) handleCommand(ctx context.Context, text, conversationKey string, target Target) bool {
	switch strings.ToLower(strings.Fields(text)[0]) {
	case "/start":
		l.sendText(l.welcomeText(), target)
	case "/help":
		l.sendText(l.helpText(), target)
	case "/reset":
		if err := l.history.Clear(ctx, conversationKey); err != nil {
			logger.ErrorCF("agent", "History clear failed", map[string]interface{}{
				"conversation": conversationKey, "error": err.Error(),
			})
			l.sendText(l.fallbackText(), target)
			return true
		}
		l.sendText("Done, we are starting fresh. What are you looking for?", target)
	default:
		return false
	}
	return true
}

// refreshProfile merges the cheap attributes carried on the message and,
// when due, runs the expensive directory fetch. A fetch that finds nothing
// still stamps the fetch time so it is not retried every turn.
func (l *Loop) refreshProfile(ctx context.Context, userKey string, msg bus.InboundMessage) {
	cheap := memory.Profile{
		Name:   msg.Metadata["name"],
		Handle: msg.Metadata["handle"],
		Locale: msg.Metadata["locale"],
	}
	prof, err := l.profiles.Merge(ctx, userKey, cheap)
	if err != nil {
		logger.WarnCF("agent", "Profile merge failed", map[string]interface{}{
			"user": userKey, "error": err.Error(),
		})
		return
	}

	if !l.profiles.ShouldRefreshExpensive(prof) {
		return
	}
	fetched, err := l.fetcher.FetchExpensive(ctx, userKey)
	if err != nil {
		logger.WarnCF("agent", "Expensive profile fetch failed", map[string]interface{}{
			"user": userKey, "error": err.Error(),
		})
		fetched = memory.Profile{}
	}
	if _, err := l.profiles.RecordExpensiveFetch(ctx, userKey, fetched); err != nil {
		logger.WarnCF("agent", "Fetch stamp failed", map[string]interface{}{
			"user": userKey, "error": err.Error(),
		})
	}
}

func (l *Loop) sendText(text string, target Target) {
	for _, op := range l.dispatcher.textOps(text, target) {
		l.bus.PublishOutbound(op)
	}
}

func (l *Loop) welcomeText() string {
	return fmt.Sprintf("Hello! I am Elaj, your assistant for premium Adjara real estate.\n\n"+
		"Seafront apartments, 10-12%% yields, sea views.\n\n"+
		"Tell me what you are looking for: buying, renting, or investing?\n"+
		"Or go straight to a manager: %s", l.escalationContact)
}

func (l *Loop) helpText() string {
	return "Ask me anything about Adjara listings: prices, availability, photos, yields.\n\n" +
		"/reset starts the conversation over.\n" +
		"/start shows the welcome message again."
}

func (l *Loop) fallbackText() string {
	return fmt.Sprintf("Sorry, something went wrong on my side.\nMessage %s directly and they will help right away!", l.escalationContact)
}

func (l *Loop) timeoutText() string {
	return fmt.Sprintf("Sorry, that is taking longer than expected.\nTry again in a minute or message %s directly.", l.escalationContact)
}
