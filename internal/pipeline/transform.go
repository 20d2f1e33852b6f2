package pipeline

import (
	"context"
	"log/slog"
	"time"

	"github.com/couchcryptid/crime-data-service/internal/domain"
)

// CrimeTransformer implements Transformer using domain normalization
// with optional geocoding enrichment.
type CrimeTransformer struct {
	geocoder domain.Geocoder
	logger   *slog.Logger
}

// NewTransformer creates a CrimeTransformer. Pass a nil geocoder to disable
// geocoding enrichment.
func NewTransformer(geocoder domain.Geocoder, logger *slog.Logger) *CrimeTransformer {
	return &CrimeTransformer{
		geocoder: geocoder,
		logger:   logger,
	}
}

func (t *CrimeTransformer) Transform(ctx context.Context, table *domain.Table, createdAt time.Time) (domain.Normalized, error) {
	out, err := domain.Normalize(table, createdAt)
	if err != nil {
		return domain.Normalized{}, err
	}
	if t.geocoder == nil {
		return out, nil
	}

	for i := range out.Incidents {
		if err := ctx.Err(); err != nil {
			return domain.Normalized{}, err
		}
		inc, ok := domain.EnrichWithGeocoding(ctx, out.Incidents[i], t.geocoder, t.logger)
		if ok {
			out.Incidents[i] = inc
			out.Geocoded++
		}
	}
	return out, nil
}
