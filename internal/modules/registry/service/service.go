package service

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"strings"

	"github.com/samber/lo"
	"github.com/samber/oops"
	"gopkg.in/yaml.v3"

	"github.com/reshetovitsme/rss-notify/internal/modules/registry/domain"
	"github.com/reshetovitsme/rss-notify/internal/modules/registry/repository"
	apperrors "github.com/reshetovitsme/rss-notify/internal/shared/errors"
	"github.com/reshetovitsme/rss-notify/internal/shared/platform"
)

// Service handles feed registry business logic
type Service struct {
	repo repository.Registry
}

// New creates a new registry service
func New(repo repository.Registry) *Service {
	return &Service{
		repo: repo,
	}
}

// ValidateFeedSource checks the fields an operator supplies for a source.
func ValidateFeedSource(source domain.FeedSource) error {
	if source.TenantID == 0 {
		return oops.In("registry").Wrap(fmt.Errorf("%w: tenant id is required", apperrors.ErrInvalidInput))
	}
	if strings.TrimSpace(source.Name) == "" {
		return oops.In("registry").Wrap(fmt.Errorf("%w: name is required", apperrors.ErrInvalidInput))
	}
	return validateURL(source.URL)
}

func validateURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil || !u.IsAbs() || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return oops.In("registry").With("url", raw).
			Wrap(fmt.Errorf("%w: feed url must be an absolute http(s) url", apperrors.ErrInvalidInput))
	}
	return nil
}

// AddFeedSource registers a new source. An empty channel name is derived
// from the source name.
func (s *Service) AddFeedSource(ctx context.Context, source domain.FeedSource) error {
	source.Name = strings.TrimSpace(source.Name)
	source.URL = strings.TrimSpace(source.URL)
	if err := ValidateFeedSource(source); err != nil {
		return err
	}
	if source.ChannelName == "" {
		source.ChannelName = platform.NormalizeChannelName(source.Name)
	}

	if err := s.repo.AddFeedSource(ctx, source); err != nil {
		return oops.In("registry").With("tenant_id", source.TenantID, "url", source.URL).Wrap(err)
	}
	slog.Info("Feed source added", "tenant_id", source.TenantID, "url", source.URL, "channel_name", source.ChannelName)
	return nil
}

// UpdateFeedSource changes the given fields of a source and returns the
// number of rows changed.
func (s *Service) UpdateFeedSource(ctx context.Context, tenantID int64, sourceURL string, update domain.FeedSourceUpdate) (int64, error) {
	if update.IsEmpty() {
		return 0, oops.In("registry").Wrap(fmt.Errorf("%w: nothing to update", apperrors.ErrInvalidInput))
	}
	if update.URL != nil {
		if err := validateURL(*update.URL); err != nil {
			return 0, err
		}
	}
	if update.Name != nil && strings.TrimSpace(*update.Name) == "" {
		return 0, oops.In("registry").Wrap(fmt.Errorf("%w: name must not be empty", apperrors.ErrInvalidInput))
	}

	n, err := s.repo.UpdateFeedSource(ctx, tenantID, sourceURL, update)
	if err != nil {
		return 0, oops.In("registry").With("tenant_id", tenantID, "url", sourceURL).Wrap(err)
	}
	return n, nil
}

// DeleteFeedSource removes a source together with its delivery history.
func (s *Service) DeleteFeedSource(ctx context.Context, tenantID int64, sourceURL string) (int64, error) {
	n, err := s.repo.DeleteFeedSource(ctx, tenantID, sourceURL)
	if err != nil {
		return 0, oops.In("registry").With("tenant_id", tenantID, "url", sourceURL).Wrap(err)
	}
	if n > 0 {
		slog.Info("Feed source deleted", "tenant_id", tenantID, "url", sourceURL)
	}
	return n, nil
}

// ListFeedSources returns all sources, or those of one tenant.
func (s *Service) ListFeedSources(ctx context.Context, tenantID *int64) ([]domain.FeedSource, error) {
	return s.repo.ListFeedSources(ctx, tenantID)
}

// SetEnabled toggles delivery for a source without touching its history.
func (s *Service) SetEnabled(ctx context.Context, tenantID int64, sourceURL string, enabled bool) (int64, error) {
	return s.UpdateFeedSource(ctx, tenantID, sourceURL, domain.FeedSourceUpdate{Enabled: &enabled})
}

// ImportResult counts what an import changed.
type ImportResult struct {
	Added   int
	Updated int
}

type importFile struct {
	Feeds []importSource `yaml:"feeds"`
}

type importSource struct {
	TenantID    int64  `yaml:"tenant_id"`
	Name        string `yaml:"name"`
	URL         string `yaml:"url"`
	ChannelName string `yaml:"channel_name"`
	Enabled     *bool  `yaml:"enabled"`
}

// ImportFile reads feed sources from a YAML file, see Import.
func (s *Service) ImportFile(ctx context.Context, path string) (ImportResult, error) {
	f, err := os.Open(path)
	if err != nil {
		return ImportResult{}, oops.In("registry").With("path", path).Wrap(err)
	}
	defer f.Close()
	return s.Import(ctx, f)
}

// Import adds every source of the YAML document. Sources that already exist
// get their name, channel name and enabled flag updated. Entries omitting
// enabled are enabled.
func (s *Service) Import(ctx context.Context, r io.Reader) (ImportResult, error) {
	var doc importFile
	if err := yaml.NewDecoder(r).Decode(&doc); err != nil && err != io.EOF {
		return ImportResult{}, oops.In("registry").With("context", "failed to decode feed import").Wrap(err)
	}

	var result ImportResult
	for i, item := range doc.Feeds {
		source := domain.FeedSource{
			TenantID:    item.TenantID,
			Name:        item.Name,
			URL:         item.URL,
			ChannelName: item.ChannelName,
			Enabled:     lo.FromPtrOr(item.Enabled, true),
		}

		err := s.AddFeedSource(ctx, source)
		switch {
		case err == nil:
			result.Added++
		case apperrors.Is(err, apperrors.ErrRowExists):
			update := domain.FeedSourceUpdate{Name: &source.Name, Enabled: &source.Enabled}
			if source.ChannelName != "" {
				update.ChannelName = &source.ChannelName
			}
			if _, err := s.UpdateFeedSource(ctx, source.TenantID, source.URL, update); err != nil {
				return result, oops.In("registry").With("index", i).Wrap(err)
			}
			result.Updated++
		default:
			return result, oops.In("registry").With("index", i).Wrap(err)
		}
	}

	return result, nil
}

// ChannelLister lists the channels of a community.
type ChannelLister interface {
	Channels(ctx context.Context, communityID int64) ([]platform.Channel, error)
}

// SeedTenant stores the default notification channel and role of a
// community the first time it is seen. Existing settings are kept.
func (s *Service) SeedTenant(ctx context.Context, lister ChannelLister, community platform.Community) error {
	logger := slog.With("tenant_id", community.ID, "community", community.Name)

	_, err := s.repo.GetTenantChannel(ctx, community.ID)
	switch {
	case err == nil:
	case apperrors.Is(err, apperrors.ErrNotFound):
		channelID := community.SystemChannelID
		if channelID == 0 {
			channels, err := lister.Channels(ctx, community.ID)
			if err != nil {
				return oops.In("registry").With("tenant_id", community.ID).Wrap(err)
			}
			if texts := lo.Filter(channels, func(ch platform.Channel, _ int) bool { return ch.Kind == platform.ChannelKindText }); len(texts) > 0 {
				channelID = lo.MinBy(texts, func(a, b platform.Channel) bool { return a.Position < b.Position }).ID
			}
		}
		if channelID != 0 {
			if err := s.repo.SetTenantChannel(ctx, community.ID, channelID); err != nil {
				return oops.In("registry").With("tenant_id", community.ID).Wrap(err)
			}
			logger.Info("Default notification channel stored", "channel_id", channelID)
		}
	default:
		return oops.In("registry").With("tenant_id", community.ID).Wrap(err)
	}

	_, err = s.repo.GetTenantRole(ctx, community.ID)
	switch {
	case err == nil:
	case apperrors.Is(err, apperrors.ErrNotFound):
		if community.DefaultRoleID != 0 {
			if err := s.repo.SetTenantRole(ctx, community.ID, community.DefaultRoleID); err != nil {
				return oops.In("registry").With("tenant_id", community.ID).Wrap(err)
			}
			logger.Info("Default configuration role stored", "role_id", community.DefaultRoleID)
		}
	default:
		return oops.In("registry").With("tenant_id", community.ID).Wrap(err)
	}

	return nil
}

// TrackTenants seeds the settings of the communities of p. Platforms that
// report joins deliver every community with complete data once connected,
// so they are seeded from the join hook; the rest from a single listing.
// Register before the platform connects.
func (s *Service) TrackTenants(ctx context.Context, p platform.Platform) error {
	if notifier, ok := p.(platform.JoinNotifier); ok {
		notifier.OnJoin(func(ctx context.Context, community platform.Community) {
			if err := s.SeedTenant(ctx, p, community); err != nil {
				slog.Error("Failed to seed tenant settings", "tenant_id", community.ID, "error", err)
			}
		})
		return nil
	}

	communities, err := p.Communities(ctx)
	if err != nil {
		return oops.In("registry").With("context", "failed to list communities").Wrap(err)
	}
	s.SeedTenants(ctx, p, communities)
	return nil
}

// SeedTenants seeds every community, logging failures per community.
func (s *Service) SeedTenants(ctx context.Context, lister ChannelLister, communities []platform.Community) {
	for _, community := range communities {
		if err := s.SeedTenant(ctx, lister, community); err != nil {
			slog.Error("Failed to seed tenant settings", "tenant_id", community.ID, "error", err)
		}
	}
}

// TenantChannel returns the default notification channel of a tenant.
func (s *Service) TenantChannel(ctx context.Context, tenantID int64) (int64, error) {
	return s.repo.GetTenantChannel(ctx, tenantID)
}

// SetTenantChannel changes the default notification channel of a tenant.
func (s *Service) SetTenantChannel(ctx context.Context, tenantID, channelID int64) error {
	return s.repo.SetTenantChannel(ctx, tenantID, channelID)
}

// TenantRole returns the configuration role of a tenant.
func (s *Service) TenantRole(ctx context.Context, tenantID int64) (int64, error) {
	return s.repo.GetTenantRole(ctx, tenantID)
}

// SetTenantRole changes the configuration role of a tenant.
func (s *Service) SetTenantRole(ctx context.Context, tenantID, roleID int64) error {
	return s.repo.SetTenantRole(ctx, tenantID, roleID)
}
