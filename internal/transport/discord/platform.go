package discord

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"

	"github.com/bwmarrin/discordgo"
	"github.com/samber/lo"
	"github.com/samber/oops"

	apperrors "github.com/reshetovitsme/rss-notify/internal/shared/errors"
	"github.com/reshetovitsme/rss-notify/internal/shared/platform"
)

// Session is the subset of the Discord REST API the platform uses.
type Session interface {
	GuildChannels(guildID string, options ...discordgo.RequestOption) ([]*discordgo.Channel, error)
	GuildChannelCreateComplex(guildID string, data discordgo.GuildChannelCreateData, options ...discordgo.RequestOption) (*discordgo.Channel, error)
	ChannelMessageSendComplex(channelID string, data *discordgo.MessageSend, options ...discordgo.RequestOption) (*discordgo.Message, error)
	Gateway(options ...discordgo.RequestOption) (string, error)
}

// Platform delivers to Discord guilds. Guilds are tenants, feed channels
// live in a category of their own.
type Platform struct {
	session Session
	guilds  func() []*discordgo.Guild
	conn    *discordgo.Session
	ready   chan struct{}

	mu     sync.RWMutex
	onJoin []func(ctx context.Context, community platform.Community)
}

var (
	_ platform.Platform     = (*Platform)(nil)
	_ platform.JoinNotifier = (*Platform)(nil)
)

// New creates a gateway session for token. Open connects it.
func New(token string) (*Platform, error) {
	if token == "" {
		return nil, apperrors.ErrMissingToken
	}
	s, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, oops.With("context", "failed to create discord session").Wrap(err)
	}
	s.Identify.Intents = discordgo.IntentsGuilds

	p := NewWithSession(s, func() []*discordgo.Guild {
		s.State.RLock()
		defer s.State.RUnlock()
		return append([]*discordgo.Guild(nil), s.State.Guilds...)
	})
	p.conn = s
	p.ready = make(chan struct{})

	var once sync.Once
	s.AddHandler(func(_ *discordgo.Session, _ *discordgo.Ready) {
		once.Do(func() { close(p.ready) })
	})
	s.AddHandler(func(_ *discordgo.Session, g *discordgo.GuildCreate) {
		p.notifyJoin(context.Background(), g.Guild)
	})
	return p, nil
}

// NewWithSession creates a platform on top of an existing API client and a
// source of joined guilds.
func NewWithSession(session Session, guilds func() []*discordgo.Guild) *Platform {
	return &Platform{session: session, guilds: guilds}
}

// Open connects to the gateway and waits for the ready event, which lists
// the guilds of the bot.
func (p *Platform) Open(ctx context.Context) error {
	if p.conn == nil {
		return nil
	}
	if err := p.conn.Open(); err != nil {
		return oops.With("context", "failed to open discord gateway").Wrap(err)
	}

	select {
	case <-p.ready:
		slog.Info("Discord gateway ready", "guilds", len(p.guilds()))
	case <-ctx.Done():
		return oops.With("context", "waiting for discord ready event").Wrap(ctx.Err())
	}
	return nil
}

// Close disconnects from the gateway.
func (p *Platform) Close() error {
	if p.conn == nil {
		return nil
	}
	return p.conn.Close()
}

// OnJoin registers fn to run for every guild the bot joins or becomes
// available in.
func (p *Platform) OnJoin(fn func(ctx context.Context, community platform.Community)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onJoin = append(p.onJoin, fn)
}

func (p *Platform) notifyJoin(ctx context.Context, guild *discordgo.Guild) {
	community, err := toCommunity(guild)
	if err != nil {
		slog.Warn("Ignoring guild with invalid id", "guild_id", guild.ID, "error", err)
		return
	}

	p.mu.RLock()
	hooks := append([]func(context.Context, platform.Community){}, p.onJoin...)
	p.mu.RUnlock()

	for _, fn := range hooks {
		fn(ctx, community)
	}
}

func (p *Platform) Communities(ctx context.Context) ([]platform.Community, error) {
	return lo.FilterMap(p.guilds(), func(g *discordgo.Guild, _ int) (platform.Community, bool) {
		community, err := toCommunity(g)
		if err != nil {
			slog.Warn("Ignoring guild with invalid id", "guild_id", g.ID, "error", err)
			return platform.Community{}, false
		}
		return community, true
	}), nil
}

func (p *Platform) Channels(ctx context.Context, communityID int64) ([]platform.Channel, error) {
	channels, err := p.session.GuildChannels(formatID(communityID), discordgo.WithContext(ctx))
	if err != nil {
		return nil, oops.With("guild_id", communityID, "context", "failed to list guild channels").Wrap(err)
	}
	return lo.FilterMap(channels, func(ch *discordgo.Channel, _ int) (platform.Channel, bool) {
		return toChannel(ch)
	}), nil
}

func (p *Platform) CreateCategory(ctx context.Context, communityID int64, name string) (platform.Channel, error) {
	return p.create(ctx, communityID, discordgo.GuildChannelCreateData{
		Name: name,
		Type: discordgo.ChannelTypeGuildCategory,
	})
}

func (p *Platform) CreateChannel(ctx context.Context, communityID int64, name string, parentID int64) (platform.Channel, error) {
	data := discordgo.GuildChannelCreateData{
		Name: platform.NormalizeChannelName(name),
		Type: discordgo.ChannelTypeGuildText,
	}
	if parentID != 0 {
		data.ParentID = formatID(parentID)
	}
	return p.create(ctx, communityID, data)
}

func (p *Platform) create(ctx context.Context, communityID int64, data discordgo.GuildChannelCreateData) (platform.Channel, error) {
	created, err := p.session.GuildChannelCreateComplex(formatID(communityID), data, discordgo.WithContext(ctx))
	if err != nil {
		return platform.Channel{}, oops.With("guild_id", communityID, "name", data.Name).Wrap(err)
	}
	ch, ok := toChannel(created)
	if !ok {
		return platform.Channel{}, oops.With("guild_id", communityID, "channel_id", created.ID).Errorf("created channel has unexpected type or id")
	}
	return ch, nil
}

// Send posts msg without a notification sound.
func (p *Platform) Send(ctx context.Context, channelID int64, msg platform.Message) error {
	_, err := p.session.ChannelMessageSendComplex(formatID(channelID), &discordgo.MessageSend{
		Content: FormatMessage(msg),
		Flags:   discordgo.MessageFlagsSuppressNotifications,
	}, discordgo.WithContext(ctx))
	if err != nil {
		return oops.With("channel_id", channelID, "title", msg.EntryTitle).Wrap(err)
	}
	return nil
}

// Ping requests the gateway url, a cheap authenticated REST call.
func (p *Platform) Ping(ctx context.Context) error {
	if _, err := p.session.Gateway(discordgo.WithContext(ctx)); err != nil {
		return oops.With("context", "discord gateway request failed").Wrap(err)
	}
	return nil
}

// FormatMessage renders an entry as Discord markdown. The link unfurls
// into the entry title.
func FormatMessage(msg platform.Message) string {
	return fmt.Sprintf("**%s**\n%s\n", msg.FeedTitle, msg.Link)
}

func toCommunity(g *discordgo.Guild) (platform.Community, error) {
	id, err := strconv.ParseInt(g.ID, 10, 64)
	if err != nil {
		return platform.Community{}, err
	}
	systemChannelID, _ := strconv.ParseInt(g.SystemChannelID, 10, 64)
	return platform.Community{
		ID:              id,
		Name:            g.Name,
		SystemChannelID: systemChannelID,
		// the @everyone role shares the guild id
		DefaultRoleID: id,
	}, nil
}

func toChannel(ch *discordgo.Channel) (platform.Channel, bool) {
	var kind platform.ChannelKind
	switch ch.Type {
	case discordgo.ChannelTypeGuildText:
		kind = platform.ChannelKindText
	case discordgo.ChannelTypeGuildCategory:
		kind = platform.ChannelKindCategory
	default:
		return platform.Channel{}, false
	}

	id, err := strconv.ParseInt(ch.ID, 10, 64)
	if err != nil {
		return platform.Channel{}, false
	}
	parentID, _ := strconv.ParseInt(ch.ParentID, 10, 64)
	return platform.Channel{ID: id, Name: ch.Name, Kind: kind, ParentID: parentID, Position: ch.Position}, true
}

func formatID(id int64) string {
	return strconv.FormatInt(id, 10)
}
