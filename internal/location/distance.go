package location

import (
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geo"
)

// DistanceKm is the great-circle distance between two coordinates.
func DistanceKm(lat1, lng1, lat2, lng2 float64) float64 {
	return geo.Distance(orb.Point{lng1, lat1}, orb.Point{lng2, lat2}) / 1000
}
