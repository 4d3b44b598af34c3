package telegram_test

import (
	"context"
	"errors"
	"testing"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/reshetovitsme/rss-notify/internal/shared/errors"
	"github.com/reshetovitsme/rss-notify/internal/shared/platform"
	"github.com/reshetovitsme/rss-notify/internal/transport/telegram"
)

type fakeAPI struct {
	chats map[int64]*models.ChatFullInfo
	sent  []*bot.SendMessageParams
	meErr error
}

func (f *fakeAPI) GetChat(ctx context.Context, params *bot.GetChatParams) (*models.ChatFullInfo, error) {
	chat, ok := f.chats[params.ChatID.(int64)]
	if !ok {
		return nil, errors.New("Bad Request: chat not found")
	}
	return chat, nil
}

func (f *fakeAPI) SendMessage(ctx context.Context, params *bot.SendMessageParams) (*models.Message, error) {
	if _, ok := f.chats[params.ChatID.(int64)]; !ok {
		return nil, errors.New("Forbidden: bot is not a member of the channel chat")
	}
	f.sent = append(f.sent, params)
	return &models.Message{ID: len(f.sent)}, nil
}

func (f *fakeAPI) GetMe(ctx context.Context) (*models.User, error) {
	if f.meErr != nil {
		return nil, f.meErr
	}
	return &models.User{ID: 1, IsBot: true}, nil
}

func newPlatform() (*telegram.Platform, *fakeAPI) {
	api := &fakeAPI{chats: map[int64]*models.ChatFullInfo{
		-100: {ID: -100, Title: "Go News", Username: "gonews"},
		-200: {ID: -200, Title: "Team"},
	}}
	return telegram.NewWithAPI(api, []int64{-100, -200, -300}), api
}

func TestCommunitiesSkipsUnreachableChats(t *testing.T) {
	p, _ := newPlatform()

	communities, err := p.Communities(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []platform.Community{
		{ID: -100, Name: "gonews", SystemChannelID: -100},
		{ID: -200, Name: "Team", SystemChannelID: -200},
	}, communities)
}

func TestChannelsAndCreation(t *testing.T) {
	ctx := context.Background()
	p, _ := newPlatform()

	channels, err := p.Channels(ctx, -200)
	require.NoError(t, err)
	assert.Equal(t, []platform.Channel{{ID: -200, Name: "Team", Kind: platform.ChannelKindText}}, channels)

	_, err = p.Channels(ctx, -999)
	assert.Error(t, err)

	_, err = p.CreateCategory(ctx, -100, "RSS FEEDS")
	assert.ErrorIs(t, err, apperrors.ErrUnsupported)

	ch, err := p.CreateChannel(ctx, -100, "go-releases", 0)
	require.NoError(t, err)
	assert.Equal(t, int64(-100), ch.ID)
}

func TestSendIsSilentHTML(t *testing.T) {
	p, api := newPlatform()

	err := p.Send(context.Background(), -100, platform.Message{FeedTitle: "Go Blog", EntryTitle: "Go 1.23", Link: "https://go.dev/blog/go1.23"})
	require.NoError(t, err)

	require.Len(t, api.sent, 1)
	assert.Equal(t, models.ParseModeHTML, api.sent[0].ParseMode)
	assert.True(t, api.sent[0].DisableNotification)
	assert.Equal(t, int64(-100), api.sent[0].ChatID)

	assert.Error(t, p.Send(context.Background(), -999, platform.Message{}))
}

func TestPing(t *testing.T) {
	p, api := newPlatform()
	assert.NoError(t, p.Ping(context.Background()))

	api.meErr = errors.New("unauthorized")
	assert.Error(t, p.Ping(context.Background()))
}

func TestFormatMessage(t *testing.T) {
	tests := []struct {
		name string
		msg  platform.Message
		want string
	}{
		{
			name: "escapes html",
			msg:  platform.Message{FeedTitle: "R&D <Blog>", EntryTitle: "A < B", Link: "https://example.com/?a=1&b=2"},
			want: "<b>R&amp;D &lt;Blog&gt;</b>\n<a href=\"https://example.com/?a=1&amp;b=2\">A &lt; B</a>",
		},
		{
			name: "untitled entry shows link",
			msg:  platform.Message{FeedTitle: "Blog", Link: "https://example.com/post"},
			want: "<b>Blog</b>\n<a href=\"https://example.com/post\">https://example.com/post</a>",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, telegram.FormatMessage(tt.msg))
		})
	}
}

func TestNewRequiresToken(t *testing.T) {
	_, err := telegram.New("", []int64{1})
	assert.ErrorIs(t, err, apperrors.ErrMissingToken)
}
