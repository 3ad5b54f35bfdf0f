package geo

import (
	"math"
	"testing"

	"github.com/RefatHex/ResQ/internal/models"
)

var (
	newYork    = models.Coordinate{Latitude: 40.7128, Longitude: -74.0060}
	losAngeles = models.Coordinate{Latitude: 34.0522, Longitude: -118.2437}
	sydney     = models.Coordinate{Latitude: -33.8688, Longitude: 151.2093}
)

func TestDistanceKm_SamePoint(t *testing.T) {
	for _, c := range []models.Coordinate{newYork, losAngeles, sydney, {Latitude: 90, Longitude: 0}} {
		if d := DistanceKm(c, c); d != 0 {
			t.Errorf("distance from %v to itself = %f, want 0", c, d)
		}
	}
}

func TestDistanceKm_Symmetric(t *testing.T) {
	pairs := [][2]models.Coordinate{
		{newYork, losAngeles},
		{newYork, sydney},
		{losAngeles, sydney},
	}
	for _, p := range pairs {
		ab := DistanceKm(p[0], p[1])
		ba := DistanceKm(p[1], p[0])
		if math.Abs(ab-ba) > 1e-9 {
			t.Errorf("asymmetric distance: %f vs %f", ab, ba)
		}
	}
}

func TestDistanceKm_KnownDistance(t *testing.T) {
	d := DistanceKm(newYork, losAngeles)
	if d < 3930 || d > 3950 {
		t.Errorf("expected NYC-LA around 3936km, got %f", d)
	}
}

func TestOffsetNorth(t *testing.T) {
	for _, km := range []float64{0, 3, 4.9, 5.1, 10} {
		p := OffsetNorth(newYork, km)
		if d := DistanceKm(newYork, p); math.Abs(d-km) > 1e-6 {
			t.Errorf("offset %fkm measured as %f", km, d)
		}
	}
}
