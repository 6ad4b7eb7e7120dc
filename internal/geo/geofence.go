package geo

import (
	"errors"
	"math"
	"sort"

	"github.com/example/shuttle-presence/internal/models"
)

var ErrInvalidCoordinate = errors.New("coordinate out of range")

// Resolver answers point-in-zone queries against the loaded geofence set.
// Pure in-memory computation over immutable reference data; safe for
// concurrent use.
type Resolver struct {
	zones []models.Zone // ascending by id
}

func NewResolver(zones []models.Zone) *Resolver {
	sorted := make([]models.Zone, len(zones))
	copy(sorted, zones)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })
	return &Resolver{zones: sorted}
}

// ResolveZone returns the zone containing the point, or nil when the point
// lies outside every zone. Overlapping zones are a configuration error; the
// first containing zone by ascending id wins so the answer stays stable.
func (r *Resolver) ResolveZone(lat, lon float64) (*models.Zone, error) {
	if err := ValidateCoord(lat, lon); err != nil {
		return nil, err
	}
	for i := range r.zones {
		if pointInPolygon(lat, lon, r.zones[i].Polygon) {
			return &r.zones[i], nil
		}
	}
	return nil, nil
}

// Zones returns the resolver's zone set in ascending id order.
func (r *Resolver) Zones() []models.Zone { return r.zones }

func ValidateCoord(lat, lon float64) error {
	if math.IsNaN(lat) || math.IsNaN(lon) {
		return ErrInvalidCoordinate
	}
	if lat < -90 || lat > 90 || lon < -180 || lon > 180 {
		return ErrInvalidCoordinate
	}
	return nil
}

// pointInPolygon is the standard ray-casting test: count crossings of a
// horizontal ray with the ring edges, odd means inside. Assumes a simple
// (non-self-intersecting) ring.
func pointInPolygon(lat, lon float64, ring []models.Coord) bool {
	if len(ring) < 3 {
		return false
	}
	inside := false
	j := len(ring) - 1
	for i := 0; i < len(ring); i++ {
		yi, xi := ring[i].Lat, ring[i].Lon
		yj, xj := ring[j].Lat, ring[j].Lon
		if (yi > lat) != (yj > lat) &&
			lon < (xj-xi)*(lat-yi)/(yj-yi)+xi {
			inside = !inside
		}
		j = i
	}
	return inside
}
