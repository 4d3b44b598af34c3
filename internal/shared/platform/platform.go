package platform

import (
	"context"
	"strings"

	"github.com/samber/lo"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// ChannelKind distinguishes postable channels from channel containers.
type ChannelKind int

const (
	ChannelKindText ChannelKind = iota
	ChannelKindCategory
)

// Community is a tenant as seen by the messaging platform.
type Community struct {
	ID              int64
	Name            string
	SystemChannelID int64
	DefaultRoleID   int64
}

// Channel is a text channel or a category of a community.
type Channel struct {
	ID       int64
	Name     string
	Kind     ChannelKind
	ParentID int64
	// Position is the sort order members see, lowest first.
	Position int
}

// Message is a feed entry notification.
type Message struct {
	FeedTitle  string
	EntryTitle string
	Link       string
}

// Platform is the messaging service notifications are delivered to.
type Platform interface {
	// Communities lists the tenants the bot is a member of.
	Communities(ctx context.Context) ([]Community, error)
	// Channels lists text channels and categories of a community.
	Channels(ctx context.Context, communityID int64) ([]Channel, error)
	CreateCategory(ctx context.Context, communityID int64, name string) (Channel, error)
	CreateChannel(ctx context.Context, communityID int64, name string, parentID int64) (Channel, error)
	Send(ctx context.Context, channelID int64, msg Message) error
	// Ping checks that the platform API is reachable.
	Ping(ctx context.Context) error
}

// JoinNotifier is implemented by platforms that report every community
// with complete data when it becomes available, at startup and on join.
type JoinNotifier interface {
	OnJoin(func(ctx context.Context, community Community))
}

// SameName compares channel names the way platforms store them:
// case-insensitively and with runs of whitespace equal to a dash.
func SameName(a, b string) bool {
	fold := cases.Fold()
	return fold.String(NormalizeChannelName(a)) == fold.String(NormalizeChannelName(b))
}

// NormalizeChannelName lowercases a name and replaces whitespace with
// dashes, matching how text channel names are stored.
func NormalizeChannelName(name string) string {
	lower := cases.Lower(language.Und).String(strings.TrimSpace(name))
	return strings.Join(strings.Fields(lower), "-")
}

// FindByID returns the channel of the given kind with id.
func FindByID(channels []Channel, kind ChannelKind, id int64) (Channel, bool) {
	return lo.Find(channels, func(ch Channel) bool {
		return ch.Kind == kind && ch.ID == id
	})
}

// FindByName returns the first channel of the given kind named name.
func FindByName(channels []Channel, kind ChannelKind, name string) (Channel, bool) {
	return lo.Find(channels, func(ch Channel) bool {
		return ch.Kind == kind && SameName(ch.Name, name)
	})
}
