package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sakashimaa/marketplace-checkout/internal/domain"
	"github.com/sakashimaa/marketplace-checkout/pkg/metrics"
	"github.com/sakashimaa/marketplace-checkout/pkg/mylogger"
	"github.com/sakashimaa/marketplace-checkout/pkg/utils"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

type cachedCatalogService struct {
	next        CatalogService
	redisClient *redis.Client
	cacheTTL    time.Duration
	cb          *gobreaker.CircuitBreaker
	sfg         singleflight.Group
	metrics     *metrics.Metrics
	logger      *zap.Logger
}

// NewCachedCatalogService puts a Redis read-through cache in front of next. Cache
// errors never fail a lookup; with the breaker open, reads go straight to next.
func NewCachedCatalogService(
	next CatalogService,
	redisClient *redis.Client,
	cacheTTL time.Duration,
	m *metrics.Metrics,
	logger *zap.Logger,
) CatalogService {
	if cacheTTL <= 0 {
		cacheTTL = 10 * time.Minute
	}

	return &cachedCatalogService{
		next:        next,
		redisClient: redisClient,
		cacheTTL:    cacheTTL,
		cb:          utils.NewBreaker("CatalogCache", 10*time.Second, logger),
		metrics:     m,
		logger:      logger,
	}
}

func catalogKey(catalogItemID string) string {
	return fmt.Sprintf("catalog:%s", catalogItemID)
}

func (s *cachedCatalogService) GetItem(ctx context.Context, catalogItemID string) (*domain.CatalogEntry, error) {
	v, err, _ := s.sfg.Do(catalogItemID, func() (interface{}, error) {
		if entry, ok := s.fromCache(ctx, catalogItemID); ok {
			s.metrics.CacheLookup("hit")
			return entry, nil
		}
		s.metrics.CacheLookup("miss")

		entry, err := s.next.GetItem(ctx, catalogItemID)
		if err != nil {
			return nil, err
		}

		s.toCache(ctx, entry)
		return entry, nil
	})
	if err != nil {
		return nil, err
	}

	// singleflight shares one pointer between callers.
	entry := *v.(*domain.CatalogEntry)
	return &entry, nil
}

func (s *cachedCatalogService) Invalidate(ctx context.Context, catalogItemID string) error {
	if err := s.next.Invalidate(ctx, catalogItemID); err != nil {
		return err
	}

	_, err := utils.ExecuteWithBreaker(s.cb, func() (int64, error) {
		return s.redisClient.Del(ctx, catalogKey(catalogItemID)).Result()
	})
	if err != nil {
		mylogger.Warn(
			ctx,
			s.logger,
			"Failed to invalidate catalog cache",
			zap.String("catalog_item_id", catalogItemID),
			zap.Error(err),
		)

		return fmt.Errorf("failed to invalidate catalog cache: %w", err)
	}

	return nil
}

func (s *cachedCatalogService) fromCache(ctx context.Context, catalogItemID string) (*domain.CatalogEntry, bool) {
	data, err := utils.ExecuteWithBreaker(s.cb, func() ([]byte, error) {
		data, err := s.redisClient.Get(ctx, catalogKey(catalogItemID)).Bytes()
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return data, err
	})
	if err != nil {
		if !errors.Is(err, gobreaker.ErrOpenState) && !errors.Is(err, gobreaker.ErrTooManyRequests) {
			mylogger.Warn(ctx, s.logger, "Catalog cache read failed", zap.Error(err))
		}
		return nil, false
	}

	if data == nil {
		return nil, false
	}

	var entry domain.CatalogEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		mylogger.Warn(
			ctx,
			s.logger,
			"Corrupted catalog cache entry",
			zap.String("catalog_item_id", catalogItemID),
			zap.Error(err),
		)
		return nil, false
	}

	return &entry, true
}

func (s *cachedCatalogService) toCache(ctx context.Context, entry *domain.CatalogEntry) {
	data, err := json.Marshal(entry)
	if err != nil {
		return
	}

	jitter := time.Duration(rand.Int64N(int64(s.cacheTTL/10) + 1))
	_, err = utils.ExecuteWithBreaker(s.cb, func() (string, error) {
		return s.redisClient.Set(ctx, catalogKey(entry.CatalogItemID), data, s.cacheTTL+jitter).Result()
	})
	if err != nil && !errors.Is(err, gobreaker.ErrOpenState) {
		mylogger.Warn(ctx, s.logger, "Catalog cache write failed", zap.Error(err))
	}
}
