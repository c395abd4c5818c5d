// Package cluster groups memories into transient clusters by temporal and
// spatial proximity and scores how coherent a cluster is.
//
// All functions are pure: the candidate pool is an explicit, bounded,
// owner-scoped slice supplied by the caller, never a hidden fetch.
package cluster

import (
	"math"
	"time"

	"github.com/memoirhq/memoir/internal/store"
)

// Defaults for FindNearby.
const (
	DefaultTimeWindow        = 90 * time.Minute
	DefaultDistanceThreshold = 150.0 // meters
)

// earthRadiusMeters is the mean Earth radius used by Haversine.
const earthRadiusMeters = 6371000.0

// Item is the minimal memory shape needed for clustering.
type Item struct {
	ID         int64
	CapturedAt time.Time
	PlaceName  string
	Coord      *store.GeoPoint
}

// Analysis is the result of scoring a cluster's coherence.
type Analysis struct {
	IsTight    bool
	Confidence float64
}

// Location is the representative location extracted from a cluster.
type Location struct {
	Name  string
	Coord *store.GeoPoint
}

// FindNearby returns the candidates temporally (and, where both sides carry
// coordinates, spatially) close to the target. The target itself is
// excluded. Location is a further restriction, never a requirement: a
// candidate missing coordinates on either side passes on time alone.
func FindNearby(target Item, candidates []Item, timeWindow time.Duration, distanceThreshold float64) []Item {
	if timeWindow <= 0 {
		timeWindow = DefaultTimeWindow
	}
	if distanceThreshold <= 0 {
		distanceThreshold = DefaultDistanceThreshold
	}

	var nearby []Item
	for _, c := range candidates {
		if c.ID == target.ID {
			continue
		}

		gap := c.CapturedAt.Sub(target.CapturedAt)
		if gap < 0 {
			gap = -gap
		}
		if gap > timeWindow {
			continue
		}

		if target.Coord != nil && c.Coord != nil {
			if Haversine(*target.Coord, *c.Coord) > distanceThreshold {
				continue
			}
		}

		nearby = append(nearby, c)
	}
	return nearby
}

// AnalyzeCluster scores cluster coherence in [0,1].
//
// An empty cluster scores 0. A lone capture is a valid but lower-confidence
// event at 0.7. Larger clusters start at 0.5 and earn bonuses for size,
// short time span, and tight location.
func AnalyzeCluster(items []Item) Analysis {
	switch len(items) {
	case 0:
		return Analysis{IsTight: false, Confidence: 0}
	case 1:
		return Analysis{IsTight: true, Confidence: 0.7}
	}

	confidence := 0.5

	if len(items) >= 3 {
		confidence += 0.2
	}
	if len(items) >= 5 {
		confidence += 0.1
	}

	span := timeSpan(items)
	if span <= 30*time.Minute {
		confidence += 0.2
	} else if span <= 60*time.Minute {
		confidence += 0.1
	}

	if maxDist, ok := maxPairwiseDistance(items); ok {
		if maxDist <= 50 {
			confidence += 0.2
		} else if maxDist <= 100 {
			confidence += 0.1
		}
	}

	if confidence > 1 {
		confidence = 1
	}
	if confidence < 0 {
		confidence = 0
	}

	return Analysis{IsTight: confidence >= 0.7, Confidence: confidence}
}

// ExtractLocation picks the most frequent place name among members with
// coordinates and the arithmetic centroid of all members' coordinates.
// Name ties break on first-seen iteration order; acceptable nondeterminism.
func ExtractLocation(items []Item) Location {
	nameCounts := make(map[string]int)
	var bestName string
	bestCount := 0

	var sumLat, sumLng float64
	coordCount := 0

	for _, it := range items {
		if it.Coord == nil {
			continue
		}
		sumLat += it.Coord.Lat
		sumLng += it.Coord.Lng
		coordCount++

		if it.PlaceName == "" {
			continue
		}
		nameCounts[it.PlaceName]++
		if nameCounts[it.PlaceName] > bestCount {
			bestCount = nameCounts[it.PlaceName]
			bestName = it.PlaceName
		}
	}

	loc := Location{Name: bestName}
	if coordCount > 0 {
		loc.Coord = &store.GeoPoint{
			Lat: sumLat / float64(coordCount),
			Lng: sumLng / float64(coordCount),
		}
	}
	return loc
}

// Haversine returns the great-circle distance between two points in meters.
func Haversine(a, b store.GeoPoint) float64 {
	lat1 := a.Lat * math.Pi / 180
	lat2 := b.Lat * math.Pi / 180
	dLat := (b.Lat - a.Lat) * math.Pi / 180
	dLng := (b.Lng - a.Lng) * math.Pi / 180

	sinLat := math.Sin(dLat / 2)
	sinLng := math.Sin(dLng / 2)
	h := sinLat*sinLat + math.Cos(lat1)*math.Cos(lat2)*sinLng*sinLng

	return 2 * earthRadiusMeters * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
}

func timeSpan(items []Item) time.Duration {
	earliest := items[0].CapturedAt
	latest := items[0].CapturedAt
	for _, it := range items[1:] {
		if it.CapturedAt.Before(earliest) {
			earliest = it.CapturedAt
		}
		if it.CapturedAt.After(latest) {
			latest = it.CapturedAt
		}
	}
	return latest.Sub(earliest)
}

// maxPairwiseDistance returns the largest pairwise distance among members
// with coordinates, and whether at least two such members exist.
func maxPairwiseDistance(items []Item) (float64, bool) {
	var coords []store.GeoPoint
	for _, it := range items {
		if it.Coord != nil {
			coords = append(coords, *it.Coord)
		}
	}
	if len(coords) < 2 {
		return 0, false
	}

	maxDist := 0.0
	for i := 0; i < len(coords)-1; i++ {
		for j := i + 1; j < len(coords); j++ {
			if d := Haversine(coords[i], coords[j]); d > maxDist {
				maxDist = d
			}
		}
	}
	return maxDist, true
}
