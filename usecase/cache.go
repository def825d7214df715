package usecase

import (
	"context"
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/sirupsen/logrus"

	domainCache "github.com/atendezap/zapdesk/domains/cache"
	"github.com/atendezap/zapdesk/infrastructure/blob"
	"github.com/atendezap/zapdesk/pkg/dedupe"
	"github.com/atendezap/zapdesk/pkg/ttlcache"
)

// cacheService is the admin surface over the process caches: queue TTL
// cache, both dedupe registries and the media blob store. All of them are
// safe to flush at any moment; the relational store re-derives every entry.
type cacheService struct {
	queueCache    ttlcache.Store
	allocDedupe   dedupe.Registry
	activityDedup dedupe.Registry
	media         *blob.Store
}

func NewCacheService(
	queueCache ttlcache.Store,
	allocDedupe dedupe.Registry,
	activityDedup dedupe.Registry,
	media *blob.Store,
) domainCache.ICacheUsecase {
	return &cacheService{
		queueCache:    queueCache,
		allocDedupe:   allocDedupe,
		activityDedup: activityDedup,
		media:         media,
	}
}

func (s *cacheService) GetStats(_ context.Context) ([]domainCache.CacheStats, error) {
	stats := []domainCache.CacheStats{
		{Kind: domainCache.KindQueue, Entries: s.queueCache.Len()},
		{Kind: domainCache.KindAllocDedupe, Entries: s.allocDedupe.Len()},
		{Kind: domainCache.KindActivityDedup, Entries: s.activityDedup.Len()},
	}
	if s.media != nil {
		entries, size := s.media.Stats()
		stats = append(stats, domainCache.CacheStats{
			Kind:      domainCache.KindMedia,
			Entries:   entries,
			TotalSize: size,
			HumanSize: humanize.Bytes(uint64(size)),
		})
	}
	return stats, nil
}

func (s *cacheService) Flush(_ context.Context, kind domainCache.Kind) error {
	switch kind {
	case domainCache.KindQueue:
		logrus.Infof("[CACHE] Flushed %d queue cache entries", s.queueCache.Flush())
	case domainCache.KindAllocDedupe:
		logrus.Infof("[CACHE] Flushed %d allocation dedupe keys", s.allocDedupe.Flush())
	case domainCache.KindActivityDedup:
		logrus.Infof("[CACHE] Flushed %d activity dedupe keys", s.activityDedup.Flush())
	case domainCache.KindMedia:
		if s.media == nil {
			return nil
		}
		if err := s.media.Flush(); err != nil {
			return fmt.Errorf("flush media store: %w", err)
		}
		logrus.Warn("[CACHE] Flushed media blob store")
	default:
		return fmt.Errorf("unknown cache kind %q", kind)
	}
	return nil
}

// FlushAll clears the ephemeral caches only. Media blobs are excluded:
// brokers prune attachments server-side, so a flushed file may not be
// re-downloadable and must be dropped explicitly by kind.
func (s *cacheService) FlushAll(ctx context.Context) error {
	kinds := []domainCache.Kind{
		domainCache.KindQueue,
		domainCache.KindAllocDedupe,
		domainCache.KindActivityDedup,
	}
	for _, kind := range kinds {
		if err := s.Flush(ctx, kind); err != nil {
			return err
		}
	}
	return nil
}
