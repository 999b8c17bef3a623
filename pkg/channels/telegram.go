// Elaj - conversational assistant for Adjara realty listings
// License: MIT
//
// Copyright (c) 2026 Elaj contributors

package channels

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/elajbot/elaj/pkg/bus"
	"github.com/elajbot/elaj/pkg/config"
	"github.com/elajbot/elaj/pkg/logger"
)

// Telegram talks to the Bot API directly over HTTP: long-polling getUpdates
// for inbound traffic, JSON POSTs for sends.
type Telegram struct {
	cfg       config.TelegramConfig
	allowList AllowList
	bus       *bus.MessageBus
	client    *http.Client
	baseURL   string

	offset    int64
	connected atomic.Bool

	ctx    context.Context
	cancel context.CancelFunc
}

func NewTelegram(cfg config.TelegramConfig, b *bus.MessageBus) *Telegram {
	return &Telegram{
		cfg:       cfg,
		allowList: AllowList(cfg.AllowFrom),
		bus:       b,
		client:    &http.Client{Timeout: 60 * time.Second},
		baseURL:   "https://api.telegram.org/bot" + cfg.Token,
	}
}

func (t *Telegram) Name() string { return "telegram" }

// Start verifies the token and begins long-polling.
func (t *Telegram) Start(ctx context.Context) error {
	if t.cfg.Token == "" {
		return fmt.Errorf("telegram: bot token is required")
	}
	if t.connected.Load() {
		return nil
	}
	t.ctx, t.cancel = context.WithCancel(ctx)

	me, err := t.getMe()
	if err != nil {
		return fmt.Errorf("telegram: failed to verify token: %w", err)
	}
	logger.InfoCF("telegram", "Connected", map[string]interface{}{
		"bot": me.Username, "id": me.ID,
	})
	t.connected.Store(true)

	go t.pollLoop()
	return nil
}

func (t *Telegram) Stop() error {
	if t.cancel != nil {
		t.cancel()
	}
	t.connected.Store(false)
	logger.InfoC("telegram", "Disconnected")
	return nil
}

func (t *Telegram) pollLoop() {
	logger.InfoC("telegram", "Polling started")
	backoff := time.Second

	for {
		select {
		case <-t.ctx.Done():
			logger.InfoC("telegram", "Polling stopped")
			return
		default:
		}

		updates, err := t.getUpdates(t.offset, 100, 30)
		if err != nil {
			logger.WarnCF("telegram", "getUpdates error", map[string]interface{}{
				"error": err.Error(), "backoff": backoff.String(),
			})
			select {
			case <-t.ctx.Done():
				return
			case <-time.After(backoff):
			}
			if backoff < 30*time.Second {
				backoff *= 2
			}
			continue
		}
		backoff = time.Second

		for _, u := range updates {
			if u.UpdateID >= t.offset {
				t.offset = u.UpdateID + 1
			}
			t.processUpdate(u)
		}
	}
}

// processUpdate forwards text messages to the bus. Photos, stickers, voice
// and the rest are administratively ignored.
func (t *Telegram) processUpdate(u tgUpdate) {
	msg := u.Message
	if msg == nil || msg.Text == "" {
		return
	}

	senderID := ""
	handle := ""
	name := ""
	locale := ""
	if msg.From != nil {
		senderID = strconv.FormatInt(msg.From.ID, 10)
		handle = msg.From.Username
		name = strings.TrimSpace(msg.From.FirstName + " " + msg.From.LastName)
		locale = msg.From.LanguageCode
	}
	if !t.allowList.Allows(senderID, handle) {
		logger.DebugCF("telegram", "Sender not on allow list", map[string]interface{}{"sender": senderID})
		return
	}

	t.bus.PublishInbound(bus.InboundMessage{
		Channel:   t.Name(),
		SenderID:  senderID,
		ChatID:    strconv.FormatInt(msg.Chat.ID, 10),
		MessageID: strconv.FormatInt(msg.MessageID, 10),
		Content:   msg.Text,
		Metadata: map[string]string{
			"name":   name,
			"handle": handle,
			"locale": locale,
		},
	})
}

// ---------- sends ----------

func (t *Telegram) SendText(ctx context.Context, chatID, text, replyTo string) error {
	payload := map[string]interface{}{
		"chat_id":                  chatID,
		"text":                     text,
		"disable_web_page_preview": true,
	}
	addReply(payload, replyTo)
	_, err := t.apiCall(ctx, "sendMessage", payload)
	return err
}

func (t *Telegram) SendPhoto(ctx context.Context, chatID, url, caption, replyTo string) error {
	payload := map[string]interface{}{
		"chat_id": chatID,
		"photo":   url,
	}
	if caption != "" {
		payload["caption"] = caption
	}
	addReply(payload, replyTo)
	_, err := t.apiCall(ctx, "sendPhoto", payload)
	return err
}

func (t *Telegram) SendAlbum(ctx context.Context, chatID string, items []bus.AlbumItem, replyTo string) error {
	media := make([]map[string]interface{}, 0, len(items))
	for _, item := range items {
		m := map[string]interface{}{"type": "photo", "media": item.URL}
		if item.Caption != "" {
			m["caption"] = item.Caption
		}
		media = append(media, m)
	}
	payload := map[string]interface{}{
		"chat_id": chatID,
		"media":   media,
	}
	addReply(payload, replyTo)
	_, err := t.apiCall(ctx, "sendMediaGroup", payload)
	return err
}

func (t *Telegram) SendTyping(ctx context.Context, chatID string) error {
	_, err := t.apiCall(ctx, "sendChatAction", map[string]interface{}{
		"chat_id": chatID,
		"action":  "typing",
	})
	return err
}

func addReply(payload map[string]interface{}, replyTo string) {
	if replyTo == "" {
		return
	}
	if msgID, err := strconv.ParseInt(replyTo, 10, 64); err == nil {
		payload["reply_parameters"] = map[string]interface{}{"message_id": msgID}
	}
}

// ---------- Bot API plumbing ----------

type tgUpdate struct {
	UpdateID int64      `json:"update_id"`
	Message  *tgMessage `json:"message"`
}

type tgMessage struct {
	MessageID int64   `json:"message_id"`
	From      *tgUser `json:"from"`
	Chat      tgChat  `json:"chat"`
	Text      string  `json:"text"`
}

type tgUser struct {
	ID           int64  `json:"id"`
	FirstName    string `json:"first_name"`
	LastName     string `json:"last_name"`
	Username     string `json:"username"`
	LanguageCode string `json:"language_code"`
}

type tgChat struct {
	ID   int64  `json:"id"`
	Type string `json:"type"`
}

type tgBotUser struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
}

func (t *Telegram) apiCall(ctx context.Context, method string, payload map[string]interface{}) (json.RawMessage, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("telegram: marshal %s: %w", method, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL+"/"+method, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("telegram: creating request for %s: %w", method, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("telegram: %s request failed: %w", method, err)
	}
	defer resp.Body.Close()

	var result struct {
		OK          bool            `json:"ok"`
		Description string          `json:"description"`
		Result      json.RawMessage `json:"result"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("telegram: decoding %s response: %w", method, err)
	}
	if !result.OK {
		return nil, fmt.Errorf("telegram: %s: %s", method, result.Description)
	}
	return result.Result, nil
}

func (t *Telegram) getMe() (*tgBotUser, error) {
	raw, err := t.apiCall(t.ctx, "getMe", map[string]interface{}{})
	if err != nil {
		return nil, err
	}
	var me tgBotUser
	if err := json.Unmarshal(raw, &me); err != nil {
		return nil, fmt.Errorf("telegram: decoding getMe: %w", err)
	}
	return &me, nil
}

func (t *Telegram) getUpdates(offset int64, limit, timeoutSecs int) ([]tgUpdate, error) {
	raw, err := t.apiCall(t.ctx, "getUpdates", map[string]interface{}{
		"offset":          offset,
		"limit":           limit,
		"timeout":         timeoutSecs,
		"allowed_updates": []string{"message"},
	})
	if err != nil {
		return nil, err
	}
	var updates []tgUpdate
	if err := json.Unmarshal(raw, &updates); err != nil {
		return nil, fmt.Errorf("telegram: decoding updates: %w", err)
	}
	return updates, nil
}
