package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/samber/oops"

	"github.com/reshetovitsme/rss-notify/internal/modules/registry/domain"
	apperrors "github.com/reshetovitsme/rss-notify/internal/shared/errors"
	"github.com/reshetovitsme/rss-notify/internal/shared/platform"
)

// resolveTargets returns the channel ids the source's entries go to, one per
// community of the source's tenant. Missing categories and channels are
// created; a corrected channel id is written back to the registry.
func (s *Service) resolveTargets(ctx context.Context, logger *slog.Logger, source domain.FeedSource, communities []platform.Community) []int64 {
	var targets []int64

	for _, community := range communities {
		if community.ID != source.TenantID {
			continue
		}

		channels, err := s.platform.Channels(ctx, community.ID)
		if err != nil {
			s.metrics.ResolveFailures.WithLabelValues("list").Inc()
			logger.Error("Failed to list channels", "community", community.Name, "error", err)
			continue
		}

		parentID := s.ensureCategory(ctx, logger, community, channels)

		channelID, err := s.ensureChannel(ctx, source, channels, parentID)
		if err != nil {
			s.metrics.ResolveFailures.WithLabelValues("channel").Inc()
			logger.Error("Failed to resolve delivery channel", "community", community.Name, "channel_name", source.ChannelName, "error", err)
			continue
		}

		if channelID != source.ChannelID {
			_, err := s.registry.UpdateFeedSource(ctx, source.TenantID, source.URL, domain.FeedSourceUpdate{ChannelID: &channelID})
			if err != nil {
				logger.Error("Failed to store resolved channel id", "channel_id", channelID, "error", err)
			} else {
				logger.Info("Delivery channel reassigned", "old_channel_id", source.ChannelID, "channel_id", channelID)
			}
			source.ChannelID = channelID
		}

		targets = append(targets, channelID)
	}

	return targets
}

// ensureCategory returns the id of the feed category, creating it when
// absent. Zero means channels are created without a parent.
func (s *Service) ensureCategory(ctx context.Context, logger *slog.Logger, community platform.Community, channels []platform.Channel) int64 {
	if category, ok := platform.FindByName(channels, platform.ChannelKindCategory, s.opts.CategoryName); ok {
		return category.ID
	}

	category, err := s.platform.CreateCategory(ctx, community.ID, s.opts.CategoryName)
	if err != nil {
		if apperrors.Is(err, apperrors.ErrUnsupported) {
			logger.Debug("Platform has no categories", "community", community.Name)
			return 0
		}
		s.metrics.ResolveFailures.WithLabelValues("category").Inc()
		logger.Warn("Failed to create feed category", "community", community.Name, "category", s.opts.CategoryName, "error", err)
		return 0
	}

	logger.Info("Created feed category", "community", community.Name, "category_id", category.ID)
	return category.ID
}

// ensureChannel finds the source's channel by id, then by name, and creates
// it as a last resort.
func (s *Service) ensureChannel(ctx context.Context, source domain.FeedSource, channels []platform.Channel, parentID int64) (int64, error) {
	if source.ChannelID != 0 {
		if ch, ok := platform.FindByID(channels, platform.ChannelKindText, source.ChannelID); ok {
			return ch.ID, nil
		}
	}

	if ch, ok := platform.FindByName(channels, platform.ChannelKindText, source.ChannelName); ok {
		return ch.ID, nil
	}

	if source.ChannelName == "" {
		return 0, oops.In("delivery").With("tenant_id", source.TenantID, "url", source.URL).
			Wrap(fmt.Errorf("%w: source has no channel name", apperrors.ErrResourceCreation))
	}

	ch, err := s.platform.CreateChannel(ctx, source.TenantID, source.ChannelName, parentID)
	if err != nil {
		return 0, oops.In("delivery").With("tenant_id", source.TenantID, "channel_name", source.ChannelName).
			Wrap(fmt.Errorf("%w: %w", apperrors.ErrResourceCreation, err))
	}
	return ch.ID, nil
}
