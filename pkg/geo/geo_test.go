package geo

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestHaversineKm_ZeroDistance(t *testing.T) {
	p := Point{Lat: 35.7, Lng: 51.4}
	assert.InDelta(t, 0, HaversineKm(p, p), 1e-9)
}

func TestHaversineKm_KnownDistance(t *testing.T) {
	// one degree of latitude is ~111.2 km
	d := HaversineKm(Point{Lat: 0, Lng: 0}, Point{Lat: 1, Lng: 0})
	assert.InDelta(t, 111.19, d, 0.1)
}

func TestFlightTime(t *testing.T) {
	a := Point{Lat: 0, Lng: 0}
	b := Point{Lat: 1, Lng: 0}

	assert.Equal(t, time.Duration(0), FlightTime(a, b, 0))

	got := FlightTime(a, b, 111.19)
	assert.InDelta(t, float64(time.Hour), float64(got), float64(time.Minute))
}

func TestPoint_Valid(t *testing.T) {
	assert.True(t, Point{Lat: 10, Lng: 20}.Valid())
	assert.False(t, Point{Lat: 91, Lng: 0}.Valid())
	assert.False(t, Point{Lat: 0, Lng: -181}.Valid())
}
