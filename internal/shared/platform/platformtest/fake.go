// Package platformtest provides an in-memory messaging platform for tests.
package platformtest

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/reshetovitsme/rss-notify/internal/shared/platform"
)

// Sent is a message recorded by Fake.Send.
type Sent struct {
	ChannelID int64
	Message   platform.Message
}

// Fake is a concurrency safe in-memory Platform.
type Fake struct {
	mu          sync.Mutex
	communities []platform.Community
	channels    map[int64][]platform.Channel
	nextID      int64
	sent        []Sent
	pings       int

	SendErr     map[int64]error
	CreateErr   error
	CategoryErr error
	ListErr     error
	PingErr     error
}

var _ platform.Platform = (*Fake)(nil)

// New creates an empty fake. Created channels get ids from 1000 upwards.
func New() *Fake {
	return &Fake{
		channels: make(map[int64][]platform.Channel),
		nextID:   1000,
		SendErr:  make(map[int64]error),
	}
}

// AddCommunity registers a community with its channels.
func (f *Fake) AddCommunity(c platform.Community, channels ...platform.Channel) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.communities = append(f.communities, c)
	f.channels[c.ID] = append(f.channels[c.ID], channels...)
}

// RemoveChannel deletes a channel as if it was removed on the platform.
func (f *Fake) RemoveChannel(communityID, channelID int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.channels[communityID] = slices.DeleteFunc(f.channels[communityID], func(ch platform.Channel) bool {
		return ch.ID == channelID
	})
}

func (f *Fake) Communities(ctx context.Context) ([]platform.Community, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.communities), nil
}

func (f *Fake) Channels(ctx context.Context, communityID int64) ([]platform.Channel, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.ListErr != nil {
		return nil, f.ListErr
	}
	return slices.Clone(f.channels[communityID]), nil
}

func (f *Fake) CreateCategory(ctx context.Context, communityID int64, name string) (platform.Channel, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.CategoryErr != nil {
		return platform.Channel{}, f.CategoryErr
	}
	return f.create(communityID, name, platform.ChannelKindCategory, 0), nil
}

func (f *Fake) CreateChannel(ctx context.Context, communityID int64, name string, parentID int64) (platform.Channel, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.CreateErr != nil {
		return platform.Channel{}, f.CreateErr
	}
	return f.create(communityID, platform.NormalizeChannelName(name), platform.ChannelKindText, parentID), nil
}

func (f *Fake) create(communityID int64, name string, kind platform.ChannelKind, parentID int64) platform.Channel {
	f.nextID++
	ch := platform.Channel{ID: f.nextID, Name: name, Kind: kind, ParentID: parentID}
	f.channels[communityID] = append(f.channels[communityID], ch)
	return ch
}

func (f *Fake) Send(ctx context.Context, channelID int64, msg platform.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.SendErr[channelID]; err != nil {
		return err
	}
	if !f.hasChannel(channelID) {
		return fmt.Errorf("unknown channel %d", channelID)
	}
	f.sent = append(f.sent, Sent{ChannelID: channelID, Message: msg})
	return nil
}

func (f *Fake) hasChannel(channelID int64) bool {
	for _, channels := range f.channels {
		if slices.ContainsFunc(channels, func(ch platform.Channel) bool { return ch.ID == channelID }) {
			return true
		}
	}
	return false
}

func (f *Fake) Ping(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pings++
	return f.PingErr
}

// Sent returns the messages sent so far, in order.
func (f *Fake) Sent() []Sent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.sent)
}

// ChannelsOf returns the channels of a community.
func (f *Fake) ChannelsOf(communityID int64) []platform.Channel {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.channels[communityID])
}

// Pings returns how often Ping was called.
func (f *Fake) Pings() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pings
}
