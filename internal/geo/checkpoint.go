package geo

import (
	"errors"
	"math"
	"sort"

	"github.com/example/shuttle-presence/internal/models"
)

// ErrNoCheckpoints means the route reference data is empty. That is a
// deployment fault, not a per-request condition.
var ErrNoCheckpoints = errors.New("no checkpoints configured")

// Route locates the nearest checkpoint on the fixed carrier route.
type Route struct {
	checkpoints []models.Checkpoint // ascending by sequence order
}

func NewRoute(checkpoints []models.Checkpoint) *Route {
	sorted := make([]models.Checkpoint, len(checkpoints))
	copy(sorted, checkpoints)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].SequenceOrder < sorted[j].SequenceOrder })
	return &Route{checkpoints: sorted}
}

// Nearest returns the checkpoint with the minimum great-circle distance to
// the point. Ties go to the lowest sequence order, which the scan order
// already guarantees.
func (r *Route) Nearest(lat, lon float64) (*models.Checkpoint, error) {
	if err := ValidateCoord(lat, lon); err != nil {
		return nil, err
	}
	if len(r.checkpoints) == 0 {
		return nil, ErrNoCheckpoints
	}
	best := 0
	bestDist := Haversine(lat, lon, r.checkpoints[0].Lat, r.checkpoints[0].Lon)
	for i := 1; i < len(r.checkpoints); i++ {
		d := Haversine(lat, lon, r.checkpoints[i].Lat, r.checkpoints[i].Lon)
		if d < bestDist {
			best, bestDist = i, d
		}
	}
	return &r.checkpoints[best], nil
}

// Checkpoints returns the route in sequence order.
func (r *Route) Checkpoints() []models.Checkpoint { return r.checkpoints }

// Haversine distance in meters
func Haversine(lat1, lon1, lat2, lon2 float64) float64 {
	const R = 6371000.0
	dLat := (lat2 - lat1) * math.Pi / 180
	dLon := (lon2 - lon1) * math.Pi / 180
	a := math.Sin(dLat/2)*math.Sin(dLat/2) + math.Cos(lat1*math.Pi/180)*math.Cos(lat2*math.Pi/180)*math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return R * c
}
