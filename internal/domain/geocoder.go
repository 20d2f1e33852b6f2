package domain

import "context"

// GeocodingResult contains location data returned by a geocoding provider.
type GeocodingResult struct {
	Lat              float64
	Lon              float64
	FormattedAddress string
	Confidence       float64 // 0.0–1.0 provider confidence score
}

// Geocoder resolves incident addresses to coordinates.
type Geocoder interface {
	// ForwardGeocode converts a street address within an area to coordinates.
	ForwardGeocode(ctx context.Context, address, area string) (GeocodingResult, error)
}
