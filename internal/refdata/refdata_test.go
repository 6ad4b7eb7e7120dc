package refdata

import (
	"os"
	"path/filepath"
	"testing"
)

const sampleYAML = `
zones:
  - id: z1
    name: Main Gate
    polygon:
      - {lat: 17.0, lon: 78.0}
      - {lat: 17.0, lon: 78.1}
      - {lat: 17.1, lon: 78.1}
      - {lat: 17.1, lon: 78.0}
checkpoints:
  - {id: c1, name: Library, lat: 17.05, lon: 78.05, sequence_order: 1}
  - {id: c2, name: Hostel, lat: 17.06, lon: 78.06, sequence_order: 2}
`

func writeTemp(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "refdata.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadValid(t *testing.T) {
	set, err := Load(writeTemp(t, sampleYAML), nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(set.Zones) != 1 || len(set.Checkpoints) != 2 {
		t.Fatalf("unexpected set: %d zones, %d checkpoints", len(set.Zones), len(set.Checkpoints))
	}
	if set.Zones[0].ID != "z1" || len(set.Zones[0].Polygon) != 4 {
		t.Fatalf("zone not parsed: %+v", set.Zones[0])
	}
}

func TestLoadRejectsDegeneratePolygon(t *testing.T) {
	bad := `
zones:
  - id: z1
    name: Sliver
    polygon:
      - {lat: 17.0, lon: 78.0}
      - {lat: 17.1, lon: 78.1}
`
	if _, err := Load(writeTemp(t, bad), nil); err == nil {
		t.Fatal("expected error for 2-vertex polygon")
	}
}

func TestLoadRejectsDuplicateSequenceOrder(t *testing.T) {
	bad := `
checkpoints:
  - {id: c1, name: A, lat: 17, lon: 78, sequence_order: 1}
  - {id: c2, name: B, lat: 18, lon: 79, sequence_order: 1}
`
	if _, err := Load(writeTemp(t, bad), nil); err == nil {
		t.Fatal("expected error for duplicate sequence order")
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml"), nil); err == nil {
		t.Fatal("expected error for missing file")
	}
}
