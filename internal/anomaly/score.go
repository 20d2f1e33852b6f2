// Package anomaly flags locations whose incident count is a statistical
// outlier within their area.
//
// For each area, the per-location counts give a mean and a sample standard
// deviation (n-1). A location's z-score is (count - mean) / stddev and the
// location is anomalous when z exceeds [Threshold]. Areas with a single
// location or with identical counts at every location have no usable spread;
// their locations are never anomalous.
package anomaly

import (
	"cmp"
	"fmt"
	"math"
	"slices"

	"github.com/couchcryptid/crime-data-service/internal/domain"
)

const (
	// Threshold is the z-score a location must exceed to be reported.
	Threshold = 2.0

	// MaxConfidence caps ConfidenceScore.
	MaxConfidence = 0.99

	// confidenceSpan is the z distance above Threshold at which confidence
	// would reach 1.
	confidenceSpan = 3.0
)

// ComputeAreaStats returns the count distribution of every area in locs.
func ComputeAreaStats(locs []domain.LocationStat) map[string]domain.AreaStat {
	counts := make(map[string][]int)
	for _, l := range locs {
		counts[l.AreaName] = append(counts[l.AreaName], l.Count)
	}

	stats := make(map[string]domain.AreaStat, len(counts))
	for area, cs := range counts {
		stats[area] = areaStat(area, cs)
	}
	return stats
}

func areaStat(area string, counts []int) domain.AreaStat {
	s := domain.AreaStat{AreaName: area, Locations: len(counts)}
	if len(counts) == 0 {
		return s
	}

	var sum float64
	for _, c := range counts {
		sum += float64(c)
	}
	s.Mean = sum / float64(len(counts))
	if len(counts) < 2 {
		return s
	}

	var sq float64
	for _, c := range counts {
		d := float64(c) - s.Mean
		sq += d * d
	}
	s.StdDev = math.Sqrt(sq / float64(len(counts)-1))
	s.Defined = s.StdDev > 0
	return s
}

// ZScore returns the standardized count of a location in area s. ok is false
// when the area's spread is undefined.
func ZScore(count int, s domain.AreaStat) (z float64, ok bool) {
	if !s.Defined {
		return 0, false
	}
	return (float64(count) - s.Mean) / s.StdDev, true
}

// IsAnomalous reports whether z is strictly above Threshold.
func IsAnomalous(z float64) bool {
	return z > Threshold
}

// Confidence maps a z-score to [0, MaxConfidence], growing linearly above
// Threshold.
func Confidence(z float64) float64 {
	c := (z - Threshold) / confidenceSpan
	return math.Max(0, math.Min(MaxConfidence, c))
}

// Describe renders the human-readable explanation of an anomaly.
func Describe(count int, s domain.AreaStat) string {
	ratio := 0.0
	if s.Mean > 0 {
		ratio = float64(count) / s.Mean
	}
	return fmt.Sprintf(
		"this location has %d reported crimes, which is %.1fx higher than the average of %.1f crimes per location in %s",
		count, ratio, s.Mean, s.AreaName,
	)
}

// Candidate is a location that passed the threshold, with the statistics
// that flagged it.
type Candidate struct {
	domain.LocationStat
	Area  domain.AreaStat
	Score float64
}

// Rank scores every location against its area and returns the anomalous
// ones, highest z first. Equal scores are ordered by area, location,
// latitude, then longitude.
func Rank(locs []domain.LocationStat) []Candidate {
	stats := ComputeAreaStats(locs)

	var out []Candidate
	for _, l := range locs {
		s := stats[l.AreaName]
		z, ok := ZScore(l.Count, s)
		if !ok || !IsAnomalous(z) {
			continue
		}
		out = append(out, Candidate{LocationStat: l, Area: s, Score: z})
	}

	slices.SortFunc(out, func(a, b Candidate) int {
		return cmp.Or(
			cmp.Compare(b.Score, a.Score),
			cmp.Compare(a.AreaName, b.AreaName),
			cmp.Compare(a.Location, b.Location),
			cmp.Compare(a.Lat, b.Lat),
			cmp.Compare(a.Lon, b.Lon),
		)
	})
	return out
}
