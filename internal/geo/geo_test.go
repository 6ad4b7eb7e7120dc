package geo

import (
	"errors"
	"testing"

	"github.com/example/shuttle-presence/internal/models"
)

func TestHaversineZero(t *testing.T) {
	d := Haversine(0, 0, 0, 0)
	if d != 0 {
		t.Fatalf("expected 0, got %f", d)
	}
}

func squareZone(id string, minLat, minLon, maxLat, maxLon float64) models.Zone {
	return models.Zone{
		ID:   id,
		Name: "zone " + id,
		Polygon: []models.Coord{
			{Lat: minLat, Lon: minLon},
			{Lat: minLat, Lon: maxLon},
			{Lat: maxLat, Lon: maxLon},
			{Lat: maxLat, Lon: minLon},
		},
	}
}

func TestResolveZoneInsideOutside(t *testing.T) {
	r := NewResolver([]models.Zone{squareZone("z1", 10, 10, 11, 11)})

	z, err := r.ResolveZone(10.5, 10.5)
	if err != nil {
		t.Fatal(err)
	}
	if z == nil || z.ID != "z1" {
		t.Fatalf("expected z1, got %v", z)
	}

	z, err = r.ResolveZone(12, 12)
	if err != nil {
		t.Fatal(err)
	}
	if z != nil {
		t.Fatalf("expected no zone, got %s", z.ID)
	}
}

func TestResolveZoneOverlapPicksLowestID(t *testing.T) {
	// both squares contain (10.5, 10.5); resolver must pick ascending id
	r := NewResolver([]models.Zone{
		squareZone("z9", 10, 10, 11, 11),
		squareZone("z1", 10, 10, 12, 12),
	})
	z, err := r.ResolveZone(10.5, 10.5)
	if err != nil {
		t.Fatal(err)
	}
	if z.ID != "z1" {
		t.Fatalf("expected z1, got %s", z.ID)
	}
}

func TestResolveZoneInvalidCoordinate(t *testing.T) {
	r := NewResolver(nil)
	if _, err := r.ResolveZone(91, 0); !errors.Is(err, ErrInvalidCoordinate) {
		t.Fatalf("expected ErrInvalidCoordinate, got %v", err)
	}
	if _, err := r.ResolveZone(0, -181); !errors.Is(err, ErrInvalidCoordinate) {
		t.Fatalf("expected ErrInvalidCoordinate, got %v", err)
	}
}

func TestNearestCheckpoint(t *testing.T) {
	route := NewRoute([]models.Checkpoint{
		{ID: "c3", Name: "Gate", Lat: 17.0, Lon: 78.0, SequenceOrder: 3},
		{ID: "c1", Name: "Library", Lat: 17.5, Lon: 78.5, SequenceOrder: 1},
		{ID: "c2", Name: "Hostel", Lat: 18.0, Lon: 79.0, SequenceOrder: 2},
	})

	cp, err := route.Nearest(17.01, 78.01)
	if err != nil {
		t.Fatal(err)
	}
	if cp.ID != "c3" {
		t.Fatalf("expected c3, got %s", cp.ID)
	}
}

func TestNearestCheckpointTieBreakBySequence(t *testing.T) {
	// both checkpoints at the same spot; lowest sequence order wins
	route := NewRoute([]models.Checkpoint{
		{ID: "c5", Lat: 17, Lon: 78, SequenceOrder: 5},
		{ID: "c2", Lat: 17, Lon: 78, SequenceOrder: 2},
	})
	cp, err := route.Nearest(17, 78)
	if err != nil {
		t.Fatal(err)
	}
	if cp.ID != "c2" {
		t.Fatalf("expected c2, got %s", cp.ID)
	}
}

func TestNearestCheckpointEmptyRoute(t *testing.T) {
	route := NewRoute(nil)
	if _, err := route.Nearest(0, 0); !errors.Is(err, ErrNoCheckpoints) {
		t.Fatalf("expected ErrNoCheckpoints, got %v", err)
	}
}
