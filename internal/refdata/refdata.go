// Package refdata loads the immutable zone and checkpoint reference data
// from a YAML file at startup.
package refdata

import (
	"fmt"
	"log/slog"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/example/shuttle-presence/internal/geo"
	"github.com/example/shuttle-presence/internal/models"
)

type Set struct {
	Zones       []models.Zone       `yaml:"zones"`
	Checkpoints []models.Checkpoint `yaml:"checkpoints"`
}

func Load(path string, logger *slog.Logger) (*Set, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read reference data: %w", err)
	}
	var set Set
	if err := yaml.Unmarshal(b, &set); err != nil {
		return nil, fmt.Errorf("parse reference data: %w", err)
	}
	if err := set.validate(); err != nil {
		return nil, err
	}
	set.warnOverlaps(logger)
	return &set, nil
}

func (s *Set) validate() error {
	seenZone := make(map[string]bool, len(s.Zones))
	for _, z := range s.Zones {
		if z.ID == "" {
			return fmt.Errorf("zone %q: missing id", z.Name)
		}
		if seenZone[z.ID] {
			return fmt.Errorf("zone %s: duplicate id", z.ID)
		}
		seenZone[z.ID] = true
		if len(z.Polygon) < 3 {
			return fmt.Errorf("zone %s: polygon needs at least 3 vertices, got %d", z.ID, len(z.Polygon))
		}
		for _, c := range z.Polygon {
			if err := geo.ValidateCoord(c.Lat, c.Lon); err != nil {
				return fmt.Errorf("zone %s: vertex (%f, %f): %w", z.ID, c.Lat, c.Lon, err)
			}
		}
	}

	seenCP := make(map[string]bool, len(s.Checkpoints))
	seenSeq := make(map[int]string, len(s.Checkpoints))
	for _, cp := range s.Checkpoints {
		if cp.ID == "" {
			return fmt.Errorf("checkpoint %q: missing id", cp.Name)
		}
		if seenCP[cp.ID] {
			return fmt.Errorf("checkpoint %s: duplicate id", cp.ID)
		}
		seenCP[cp.ID] = true
		if err := geo.ValidateCoord(cp.Lat, cp.Lon); err != nil {
			return fmt.Errorf("checkpoint %s: %w", cp.ID, err)
		}
		if other, dup := seenSeq[cp.SequenceOrder]; dup {
			return fmt.Errorf("checkpoint %s: sequence_order %d already used by %s", cp.ID, cp.SequenceOrder, other)
		}
		seenSeq[cp.SequenceOrder] = cp.ID
	}
	return nil
}

// warnOverlaps flags zone pairs whose bounding boxes intersect. Overlapping
// zones are a configuration smell (containment falls back to ascending id),
// so operators get a log line rather than a hard failure.
func (s *Set) warnOverlaps(logger *slog.Logger) {
	if logger == nil {
		return
	}
	type box struct{ minLat, minLon, maxLat, maxLon float64 }
	boxes := make([]box, len(s.Zones))
	zones := make([]models.Zone, len(s.Zones))
	copy(zones, s.Zones)
	sort.Slice(zones, func(i, j int) bool { return zones[i].ID < zones[j].ID })
	for i, z := range zones {
		b := box{minLat: 91, minLon: 181, maxLat: -91, maxLon: -181}
		for _, c := range z.Polygon {
			if c.Lat < b.minLat {
				b.minLat = c.Lat
			}
			if c.Lat > b.maxLat {
				b.maxLat = c.Lat
			}
			if c.Lon < b.minLon {
				b.minLon = c.Lon
			}
			if c.Lon > b.maxLon {
				b.maxLon = c.Lon
			}
		}
		boxes[i] = b
	}
	for i := 0; i < len(zones); i++ {
		for j := i + 1; j < len(zones); j++ {
			a, b := boxes[i], boxes[j]
			if a.minLat <= b.maxLat && b.minLat <= a.maxLat &&
				a.minLon <= b.maxLon && b.minLon <= a.maxLon {
				logger.Warn("zone bounding boxes overlap",
					"zone_a", zones[i].ID, "zone_b", zones[j].ID)
			}
		}
	}
}
