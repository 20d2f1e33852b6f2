package mapbox

import (
	"context"
	"fmt"
	"strings"

	"github.com/couchcryptid/crime-data-service/internal/domain"
	"github.com/couchcryptid/crime-data-service/internal/observability"
	lru "github.com/hashicorp/golang-lru/v2"
)

// CachedGeocoder wraps a Geocoder with an in-memory LRU cache keyed by the
// normalized address and area.
type CachedGeocoder struct {
	inner   domain.Geocoder
	cache   *lru.Cache[string, domain.GeocodingResult]
	metrics *observability.Metrics
}

// NewCachedGeocoder creates a cache decorator around a geocoder.
func NewCachedGeocoder(inner domain.Geocoder, maxEntries int, metrics *observability.Metrics) (*CachedGeocoder, error) {
	cache, err := lru.New[string, domain.GeocodingResult](maxEntries)
	if err != nil {
		return nil, fmt.Errorf("create geocode cache: %w", err)
	}
	return &CachedGeocoder{inner: inner, cache: cache, metrics: metrics}, nil
}

func (c *CachedGeocoder) ForwardGeocode(ctx context.Context, address, area string) (domain.GeocodingResult, error) {
	key := cacheKey(address, area)
	if result, ok := c.cache.Get(key); ok {
		c.metrics.GeocodeCache.WithLabelValues("hit").Inc()
		return result, nil
	}
	c.metrics.GeocodeCache.WithLabelValues("miss").Inc()

	result, err := c.inner.ForwardGeocode(ctx, address, area)
	if err != nil {
		return result, err
	}
	// Empty results are not cached so a later lookup can retry.
	if result.FormattedAddress != "" {
		c.cache.Add(key, result)
	}
	return result, nil
}

// Len returns the number of cached addresses.
func (c *CachedGeocoder) Len() int {
	return c.cache.Len()
}

func cacheKey(address, area string) string {
	return strings.ToUpper(strings.Join(strings.Fields(address), " ")) + "|" + strings.ToUpper(strings.TrimSpace(area))
}
