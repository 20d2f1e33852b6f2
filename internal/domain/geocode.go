package domain

import (
	"context"
	"log/slog"
	"strings"
)

// GeocodeAddress builds the street address used to geocode an incident:
// the location, joined with the cross street when present. Runs of spaces in
// the export's padded addresses are collapsed.
func GeocodeAddress(inc Incident) string {
	addr := strings.Join(strings.Fields(inc.Location), " ")
	if cross := strings.Join(strings.Fields(inc.CrossStreet), " "); cross != "" {
		addr += " & " + cross
	}
	return addr
}

// EnrichWithGeocoding fills missing coordinates by forward geocoding the
// incident's address. If geocoder is nil, the incident already has
// coordinates, or the lookup fails, the incident is returned unchanged
// (graceful degradation). The boolean reports whether coordinates were added.
func EnrichWithGeocoding(ctx context.Context, inc Incident, geocoder Geocoder, logger *slog.Logger) (Incident, bool) {
	if geocoder == nil || inc.Geocoded() {
		return inc, false
	}
	addr := GeocodeAddress(inc)
	if addr == "" {
		return inc, false
	}

	result, err := geocoder.ForwardGeocode(ctx, addr, inc.AreaName)
	if err != nil {
		logger.Warn("forward geocoding failed",
			"dr_no", inc.DRNo,
			"address", addr,
			"area", inc.AreaName,
			"error", err,
		)
		return inc, false
	}
	if result.Lat == 0 && result.Lon == 0 {
		return inc, false
	}

	lat, lon := result.Lat, result.Lon
	inc.Lat = &lat
	inc.Lon = &lon
	return inc, true
}
