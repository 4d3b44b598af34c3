package discord_test

import (
	"context"
	"errors"
	"strconv"
	"testing"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/reshetovitsme/rss-notify/internal/shared/errors"
	"github.com/reshetovitsme/rss-notify/internal/shared/platform"
	"github.com/reshetovitsme/rss-notify/internal/transport/discord"
)

type fakeSession struct {
	channels   map[string][]*discordgo.Channel
	created    []discordgo.GuildChannelCreateData
	sent       map[string][]*discordgo.MessageSend
	nextID     int
	gatewayErr error
}

func newFakeSession() *fakeSession {
	return &fakeSession{
		channels: map[string][]*discordgo.Channel{
			"10": {
				{ID: "11", Name: "general", Type: discordgo.ChannelTypeGuildText},
				{ID: "12", Name: "RSS FEEDS", Type: discordgo.ChannelTypeGuildCategory},
				{ID: "13", Name: "voice", Type: discordgo.ChannelTypeGuildVoice},
				{ID: "14", Name: "go-blog", Type: discordgo.ChannelTypeGuildText, ParentID: "12", Position: 2},
			},
		},
		sent:   make(map[string][]*discordgo.MessageSend),
		nextID: 100,
	}
}

func (f *fakeSession) GuildChannels(guildID string, options ...discordgo.RequestOption) ([]*discordgo.Channel, error) {
	channels, ok := f.channels[guildID]
	if !ok {
		return nil, errors.New("HTTP 404 Not Found")
	}
	return channels, nil
}

func (f *fakeSession) GuildChannelCreateComplex(guildID string, data discordgo.GuildChannelCreateData, options ...discordgo.RequestOption) (*discordgo.Channel, error) {
	f.created = append(f.created, data)
	f.nextID++
	ch := &discordgo.Channel{ID: strconv.Itoa(f.nextID), GuildID: guildID, Name: data.Name, Type: data.Type, ParentID: data.ParentID}
	f.channels[guildID] = append(f.channels[guildID], ch)
	return ch, nil
}

func (f *fakeSession) ChannelMessageSendComplex(channelID string, data *discordgo.MessageSend, options ...discordgo.RequestOption) (*discordgo.Message, error) {
	if channelID == "404" {
		return nil, errors.New("HTTP 404 Unknown Channel")
	}
	f.sent[channelID] = append(f.sent[channelID], data)
	return &discordgo.Message{ID: "1", ChannelID: channelID, Content: data.Content}, nil
}

func (f *fakeSession) Gateway(options ...discordgo.RequestOption) (string, error) {
	return "wss://gateway.discord.gg", f.gatewayErr
}

func guilds() []*discordgo.Guild {
	return []*discordgo.Guild{
		{ID: "10", Name: "Gophers", SystemChannelID: "11"},
		{ID: "not-a-snowflake", Name: "Broken"},
	}
}

func TestCommunities(t *testing.T) {
	p := discord.NewWithSession(newFakeSession(), guilds)

	communities, err := p.Communities(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []platform.Community{
		{ID: 10, Name: "Gophers", SystemChannelID: 11, DefaultRoleID: 10},
	}, communities)
}

func TestChannelsKeepsTextAndCategories(t *testing.T) {
	p := discord.NewWithSession(newFakeSession(), guilds)

	channels, err := p.Channels(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, []platform.Channel{
		{ID: 11, Name: "general", Kind: platform.ChannelKindText},
		{ID: 12, Name: "RSS FEEDS", Kind: platform.ChannelKindCategory},
		{ID: 14, Name: "go-blog", Kind: platform.ChannelKindText, ParentID: 12, Position: 2},
	}, channels)

	_, err = p.Channels(context.Background(), 99)
	assert.Error(t, err)
}

func TestCreateCategoryAndChannel(t *testing.T) {
	session := newFakeSession()
	p := discord.NewWithSession(session, guilds)
	ctx := context.Background()

	category, err := p.CreateCategory(ctx, 10, "RSS FEEDS")
	require.NoError(t, err)
	assert.Equal(t, platform.ChannelKindCategory, category.Kind)

	ch, err := p.CreateChannel(ctx, 10, "Go Releases", category.ID)
	require.NoError(t, err)
	assert.Equal(t, platform.Channel{ID: 102, Name: "go-releases", Kind: platform.ChannelKindText, ParentID: category.ID}, ch)

	require.Len(t, session.created, 2)
	assert.Equal(t, discordgo.ChannelTypeGuildText, session.created[1].Type)
	assert.Equal(t, strconv.FormatInt(category.ID, 10), session.created[1].ParentID)

	orphan, err := p.CreateChannel(ctx, 10, "loose", 0)
	require.NoError(t, err)
	assert.Zero(t, orphan.ParentID)
	assert.Empty(t, session.created[2].ParentID)
}

func TestSendIsSilent(t *testing.T) {
	session := newFakeSession()
	p := discord.NewWithSession(session, guilds)

	err := p.Send(context.Background(), 14, platform.Message{FeedTitle: "Go Blog", EntryTitle: "Go 1.23", Link: "https://go.dev/blog/go1.23"})
	require.NoError(t, err)

	sent := session.sent["14"]
	require.Len(t, sent, 1)
	assert.Equal(t, "**Go Blog**\nhttps://go.dev/blog/go1.23\n", sent[0].Content)
	assert.Equal(t, discordgo.MessageFlagsSuppressNotifications, sent[0].Flags)

	assert.Error(t, p.Send(context.Background(), 404, platform.Message{}))
}

func TestPing(t *testing.T) {
	session := newFakeSession()
	p := discord.NewWithSession(session, guilds)
	assert.NoError(t, p.Ping(context.Background()))

	session.gatewayErr = errors.New("HTTP 401 Unauthorized")
	assert.Error(t, p.Ping(context.Background()))
}

func TestNewRequiresToken(t *testing.T) {
	_, err := discord.New("")
	assert.ErrorIs(t, err, apperrors.ErrMissingToken)
}
