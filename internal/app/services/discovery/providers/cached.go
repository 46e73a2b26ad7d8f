package providers

import (
	"context"
	"strings"
	"time"

	domain "github.com/roamly/discovery/internal/app/domain/discovery"
	"github.com/roamly/discovery/internal/app/services/discovery"
	"github.com/roamly/discovery/internal/app/storage"
	"github.com/roamly/discovery/pkg/logger"
)

var _ discovery.ValidationProvider = (*CachedValidator)(nil)

// CachedValidator serves enrichment from a cache before calling the wrapped
// provider. Only successful validations are cached; cache errors fall through
// to the provider.
type CachedValidator struct {
	next  discovery.ValidationProvider
	cache storage.EnrichmentCache
	ttl   time.Duration
	log   *logger.Logger
}

func NewCachedValidator(next discovery.ValidationProvider, cache storage.EnrichmentCache, ttl time.Duration, log *logger.Logger) *CachedValidator {
	if log == nil {
		log = logger.NewDefault("discovery-enrichment-cache")
	}
	return &CachedValidator{next: next, cache: cache, ttl: ttl, log: log}
}

// CacheKey identifies a candidate independent of case and spacing.
func CacheKey(name, city string) string {
	return discovery.NormalizeName(city) + "|" + discovery.NormalizeName(name)
}

func (c *CachedValidator) ValidateCandidate(ctx context.Context, name, city string) (domain.Enrichment, error) {
	key := CacheKey(name, city)
	if c.cache != nil {
		enr, ok, err := c.cache.GetEnrichment(ctx, key)
		switch {
		case err != nil:
			c.log.WithError(err).WithField("key", key).Warn("enrichment cache read failed")
		case ok:
			return enr, nil
		}
	}

	enr, err := c.next.ValidateCandidate(ctx, name, city)
	if err != nil {
		return domain.Enrichment{}, err
	}
	if c.cache != nil && strings.TrimSpace(key) != "|" {
		if err := c.cache.PutEnrichment(ctx, key, enr, c.ttl); err != nil {
			c.log.WithError(err).WithField("key", key).Warn("enrichment cache write failed")
		}
	}
	return enr, nil
}
