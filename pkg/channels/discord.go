// Elaj - conversational assistant for Adjara realty listings
// License: MIT
//
// Copyright (c) 2026 Elaj contributors

package channels

import (
	"context"
	"fmt"

	"github.com/bwmarrin/discordgo"

	"github.com/elajbot/elaj/pkg/bus"
	"github.com/elajbot/elaj/pkg/config"
	"github.com/elajbot/elaj/pkg/logger"
)

// Discord bridges a Discord bot session onto the bus. Photos are sent as
// embeds; Discord renders an album as multiple embeds on one message.
type Discord struct {
	cfg       config.DiscordConfig
	allowList AllowList
	bus       *bus.MessageBus
	session   *discordgo.Session
	running   bool
}

func NewDiscord(cfg config.DiscordConfig, b *bus.MessageBus) (*Discord, error) {
	session, err := discordgo.New("Bot " + cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("failed to create discord session: %w", err)
	}
	return &Discord{
		cfg:       cfg,
		allowList: AllowList(cfg.AllowFrom),
		bus:       b,
		session:   session,
	}, nil
}

func (d *Discord) Name() string { return "discord" }

func (d *Discord) Start(ctx context.Context) error {
	logger.InfoC("discord", "Starting Discord bot")
	d.session.AddHandler(d.handleMessage)
	d.session.Identify.Intents = discordgo.IntentsGuildMessages | discordgo.IntentsDirectMessages | discordgo.IntentMessageContent

	if err := d.session.Open(); err != nil {
		return fmt.Errorf("failed to open discord session: %w", err)
	}
	d.running = true

	botUser, err := d.session.User("@me")
	if err != nil {
		return fmt.Errorf("failed to get bot user: %w", err)
	}
	logger.InfoCF("discord", "Discord bot connected", map[string]interface{}{
		"username": botUser.Username,
		"user_id":  botUser.ID,
	})
	return nil
}

func (d *Discord) Stop() error {
	logger.InfoC("discord", "Stopping Discord bot")
	d.running = false
	if err := d.session.Close(); err != nil {
		return fmt.Errorf("failed to close discord session: %w", err)
	}
	return nil
}

func (d *Discord) handleMessage(s *discordgo.Session, m *discordgo.MessageCreate) {
	if m.Author == nil || m.Author.Bot || m.Content == "" {
		return
	}
	if !d.allowList.Allows(m.Author.ID, m.Author.Username) {
		logger.DebugCF("discord", "Sender not on allow list", map[string]interface{}{"sender": m.Author.ID})
		return
	}

	d.bus.PublishInbound(bus.InboundMessage{
		Channel:   d.Name(),
		SenderID:  m.Author.ID,
		ChatID:    m.ChannelID,
		MessageID: m.ID,
		Content:   m.Content,
		Metadata: map[string]string{
			"name":   m.Author.GlobalName,
			"handle": m.Author.Username,
		},
	})
}

func (d *Discord) SendText(ctx context.Context, chatID, text, replyTo string) error {
	if !d.running {
		return fmt.Errorf("discord bot not running")
	}
	_, err := d.session.ChannelMessageSendComplex(chatID, &discordgo.MessageSend{
		Content:   text,
		Reference: d.reference(chatID, replyTo),
	}, discordgo.WithContext(ctx))
	return err
}

func (d *Discord) SendPhoto(ctx context.Context, chatID, url, caption, replyTo string) error {
	if !d.running {
		return fmt.Errorf("discord bot not running")
	}
	_, err := d.session.ChannelMessageSendComplex(chatID, &discordgo.MessageSend{
		Content: caption,
		Embeds: []*discordgo.MessageEmbed{
			{Image: &discordgo.MessageEmbedImage{URL: url}},
		},
		Reference: d.reference(chatID, replyTo),
	}, discordgo.WithContext(ctx))
	return err
}

func (d *Discord) SendAlbum(ctx context.Context, chatID string, items []bus.AlbumItem, replyTo string) error {
	if !d.running {
		return fmt.Errorf("discord bot not running")
	}
	caption := ""
	embeds := make([]*discordgo.MessageEmbed, 0, len(items))
	for _, item := range items {
		if item.Caption != "" {
			caption = item.Caption
		}
		embeds = append(embeds, &discordgo.MessageEmbed{
			Image: &discordgo.MessageEmbedImage{URL: item.URL},
		})
	}
	_, err := d.session.ChannelMessageSendComplex(chatID, &discordgo.MessageSend{
		Content:   caption,
		Embeds:    embeds,
		Reference: d.reference(chatID, replyTo),
	}, discordgo.WithContext(ctx))
	return err
}

func (d *Discord) SendTyping(ctx context.Context, chatID string) error {
	if !d.running {
		return fmt.Errorf("discord bot not running")
	}
	return d.session.ChannelTyping(chatID, discordgo.WithContext(ctx))
}

func (d *Discord) reference(chatID, replyTo string) *discordgo.MessageReference {
	if replyTo == "" {
		return nil
	}
	return &discordgo.MessageReference{ChannelID: chatID, MessageID: replyTo}
}
