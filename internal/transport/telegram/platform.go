package telegram

import (
	"context"
	"fmt"
	"html"
	"log/slog"
	"slices"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"github.com/samber/lo"
	"github.com/samber/oops"

	apperrors "github.com/reshetovitsme/rss-notify/internal/shared/errors"
	"github.com/reshetovitsme/rss-notify/internal/shared/platform"
)

// API is the subset of the Bot API the platform uses.
type API interface {
	GetChat(ctx context.Context, params *bot.GetChatParams) (*models.ChatFullInfo, error)
	SendMessage(ctx context.Context, params *bot.SendMessageParams) (*models.Message, error)
	GetMe(ctx context.Context) (*models.User, error)
}

// Platform delivers to Telegram chats. Every configured chat is a tenant
// whose only text channel is the chat itself.
type Platform struct {
	api   API
	chats []int64
}

var _ platform.Platform = (*Platform)(nil)

// New creates a Telegram bot for token serving the given chats.
func New(token string, chats []int64, opts ...bot.Option) (*Platform, error) {
	if token == "" {
		return nil, apperrors.ErrMissingToken
	}
	b, err := bot.New(token, opts...)
	if err != nil {
		return nil, oops.With("context", "failed to create telegram bot").Wrap(err)
	}
	return NewWithAPI(b, chats), nil
}

// NewWithAPI creates a platform on top of an existing API client.
func NewWithAPI(api API, chats []int64) *Platform {
	return &Platform{api: api, chats: slices.Clone(chats)}
}

// Communities returns the configured chats the bot can read. Chats that
// cannot be fetched are logged and left out.
func (p *Platform) Communities(ctx context.Context) ([]platform.Community, error) {
	communities := make([]platform.Community, 0, len(p.chats))
	for _, chatID := range p.chats {
		chat, err := p.api.GetChat(ctx, &bot.GetChatParams{ChatID: chatID})
		if err != nil {
			slog.Warn("Failed to get telegram chat", "chat_id", chatID, "error", err)
			continue
		}
		communities = append(communities, platform.Community{
			ID:              chat.ID,
			Name:            chatName(chat),
			SystemChannelID: chat.ID,
		})
	}
	return communities, nil
}

// Channels returns the chat itself as the single text channel.
func (p *Platform) Channels(ctx context.Context, communityID int64) ([]platform.Channel, error) {
	if !slices.Contains(p.chats, communityID) {
		return nil, oops.With("chat_id", communityID).Errorf("chat is not configured")
	}
	chat, err := p.api.GetChat(ctx, &bot.GetChatParams{ChatID: communityID})
	if err != nil {
		return nil, oops.With("chat_id", communityID, "context", "failed to get chat").Wrap(err)
	}
	return []platform.Channel{{ID: chat.ID, Name: chatName(chat), Kind: platform.ChannelKindText}}, nil
}

// CreateCategory is not supported: chats have no categories.
func (p *Platform) CreateCategory(ctx context.Context, communityID int64, name string) (platform.Channel, error) {
	return platform.Channel{}, oops.With("chat_id", communityID).Wrap(apperrors.ErrUnsupported)
}

// CreateChannel cannot create chats; any channel name of a tenant resolves
// to the chat itself.
func (p *Platform) CreateChannel(ctx context.Context, communityID int64, name string, parentID int64) (platform.Channel, error) {
	channels, err := p.Channels(ctx, communityID)
	if err != nil {
		return platform.Channel{}, err
	}
	return channels[0], nil
}

// Send posts msg to a chat without a notification sound.
func (p *Platform) Send(ctx context.Context, channelID int64, msg platform.Message) error {
	_, err := p.api.SendMessage(ctx, &bot.SendMessageParams{
		ChatID:              channelID,
		Text:                FormatMessage(msg),
		ParseMode:           models.ParseModeHTML,
		DisableNotification: true,
	})
	if err != nil {
		return oops.With("chat_id", channelID, "title", msg.EntryTitle).Wrap(err)
	}
	return nil
}

// Ping calls getMe.
func (p *Platform) Ping(ctx context.Context) error {
	if _, err := p.api.GetMe(ctx); err != nil {
		return oops.With("context", "telegram getMe failed").Wrap(err)
	}
	return nil
}

// FormatMessage renders an entry as Telegram HTML.
func FormatMessage(msg platform.Message) string {
	title := lo.CoalesceOrEmpty(msg.EntryTitle, msg.Link)
	return fmt.Sprintf("<b>%s</b>\n<a href=\"%s\">%s</a>",
		html.EscapeString(msg.FeedTitle),
		html.EscapeString(msg.Link),
		html.EscapeString(title),
	)
}

func chatName(chat *models.ChatFullInfo) string {
	return lo.CoalesceOrEmpty(chat.Username, chat.Title, fmt.Sprint(chat.ID))
}
