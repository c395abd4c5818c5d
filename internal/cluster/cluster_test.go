package cluster

import (
	"math"
	"testing"
	"time"

	"github.com/memoirhq/memoir/internal/store"
)

var base = time.Date(2026, 6, 15, 10, 0, 0, 0, time.UTC)

func item(id int64, offset time.Duration, place string, coord *store.GeoPoint) Item {
	return Item{ID: id, CapturedAt: base.Add(offset), PlaceName: place, Coord: coord}
}

func TestFindNearbyTimeWindow(t *testing.T) {
	target := item(1, 0, "", nil)
	candidates := []Item{
		item(2, 30*time.Minute, "", nil),
		item(3, -89*time.Minute, "", nil),
		item(4, 91*time.Minute, "", nil),
		item(5, -3*time.Hour, "", nil),
		item(1, 0, "", nil), // the target itself
	}

	got := FindNearby(target, candidates, DefaultTimeWindow, DefaultDistanceThreshold)
	if len(got) != 2 {
		t.Fatalf("nearby count = %d, want 2", len(got))
	}
	for _, it := range got {
		if it.ID == 1 {
			t.Error("target included in its own neighborhood")
		}
		if it.ID == 4 || it.ID == 5 {
			t.Errorf("memory %d outside the 90-minute window was included", it.ID)
		}
	}
}

func TestFindNearbyLocationIsRestrictionNotRequirement(t *testing.T) {
	sf := &store.GeoPoint{Lat: 37.7749, Lng: -122.4194}
	sfNear := &store.GeoPoint{Lat: 37.7750, Lng: -122.4195} // ~15m away
	oakland := &store.GeoPoint{Lat: 37.8044, Lng: -122.2712}

	target := item(1, 0, "", sf)
	candidates := []Item{
		item(2, 10*time.Minute, "", sfNear),   // close in time and space
		item(3, 10*time.Minute, "", oakland),  // close in time, far away
		item(4, 10*time.Minute, "", nil),      // no coords: passes on time alone
	}

	got := FindNearby(target, candidates, 0, 0)
	ids := map[int64]bool{}
	for _, it := range got {
		ids[it.ID] = true
	}
	if !ids[2] {
		t.Error("spatially close candidate excluded")
	}
	if ids[3] {
		t.Error("candidate beyond the distance threshold included")
	}
	if !ids[4] {
		t.Error("coordless candidate excluded; location must not be a requirement")
	}
}

func TestAnalyzeCluster(t *testing.T) {
	tight := &store.GeoPoint{Lat: 37.7749, Lng: -122.4194}
	tightB := &store.GeoPoint{Lat: 37.77492, Lng: -122.41941} // a few meters

	tests := []struct {
		name      string
		items     []Item
		wantConf  float64
		wantTight bool
	}{
		{"empty", nil, 0, false},
		{"singleton", []Item{item(1, 0, "", nil)}, 0.7, true},
		{
			// base 0.5 + span<=30m 0.2 = 0.7
			"pair close in time no coords",
			[]Item{item(1, 0, "", nil), item(2, 20*time.Minute, "", nil)},
			0.7, true,
		},
		{
			// base 0.5 + size>=3 0.2 + span<=30m 0.2 + dist<=50m 0.2 = 1.1 -> 1.0
			"tight trio",
			[]Item{
				item(1, 0, "", tight),
				item(2, 10*time.Minute, "", tightB),
				item(3, 20*time.Minute, "", tight),
			},
			1.0, true,
		},
		{
			// base 0.5 + span<=60m 0.1 = 0.6
			"loose pair",
			[]Item{item(1, 0, "", nil), item(2, 45*time.Minute, "", nil)},
			0.6, false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := AnalyzeCluster(tt.items)
			if math.Abs(got.Confidence-tt.wantConf) > 1e-9 {
				t.Errorf("confidence = %f, want %f", got.Confidence, tt.wantConf)
			}
			if got.IsTight != tt.wantTight {
				t.Errorf("tight = %v, want %v", got.IsTight, tt.wantTight)
			}
		})
	}
}

func TestExtractLocation(t *testing.T) {
	a := &store.GeoPoint{Lat: 10, Lng: 20}
	b := &store.GeoPoint{Lat: 20, Lng: 40}

	loc := ExtractLocation([]Item{
		item(1, 0, "Park", a),
		item(2, 0, "Park", b),
		item(3, 0, "Cafe", a),
		item(4, 0, "Beach", nil), // no coords: name does not vote
	})

	if loc.Name != "Park" {
		t.Errorf("name = %q, want Park", loc.Name)
	}
	if loc.Coord == nil {
		t.Fatal("expected centroid")
	}
	wantLat := (10.0 + 20.0 + 10.0) / 3
	wantLng := (20.0 + 40.0 + 20.0) / 3
	if math.Abs(loc.Coord.Lat-wantLat) > 1e-9 || math.Abs(loc.Coord.Lng-wantLng) > 1e-9 {
		t.Errorf("centroid = %+v, want (%f, %f)", loc.Coord, wantLat, wantLng)
	}

	empty := ExtractLocation([]Item{item(1, 0, "Somewhere", nil)})
	if empty.Coord != nil || empty.Name != "" {
		t.Errorf("coordless cluster should yield empty location, got %+v", empty)
	}
}

func TestHaversine(t *testing.T) {
	sf := store.GeoPoint{Lat: 37.7749, Lng: -122.4194}
	la := store.GeoPoint{Lat: 34.0522, Lng: -118.2437}

	d := Haversine(sf, la)
	// SF to LA is roughly 559 km.
	if d < 550_000 || d > 570_000 {
		t.Errorf("SF-LA distance = %f m", d)
	}

	if Haversine(sf, sf) != 0 {
		t.Error("distance to self should be 0")
	}
}
