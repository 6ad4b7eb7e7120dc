package broadcast

import (
	"context"
	"log/slog"
	"testing"

	"github.com/example/shuttle-presence/internal/directory"
	"github.com/example/shuttle-presence/internal/models"
	"github.com/example/shuttle-presence/internal/session"
)

var testZones = []models.Zone{
	{ID: "z1", Name: "Main Gate"},
	{ID: "z2", Name: "North Block"},
}

var testCheckpoints = []models.Checkpoint{
	{ID: "c1", Name: "Library", SequenceOrder: 1},
	{ID: "c2", Name: "Hostel", SequenceOrder: 2},
	{ID: "c3", Name: "Stadium", SequenceOrder: 3},
}

func newTestEngine(store session.Store) *Engine {
	logger := slog.Default()
	dir := directory.Static{
		"u1": {ID: "u1", Name: "Asha", Year: "3", Branch: "CSE", Section: "B"},
		"d1": {ID: "d1", Name: "Ravi", VehicleRegNo: "TS09AB1234"},
	}
	return NewEngine(store, dir, testZones, testCheckpoints, NewRegistry(logger), logger)
}

func TestSnapshotIncludesEveryZoneAndCheckpoint(t *testing.T) {
	e := newTestEngine(session.NewMemoryStore())
	snap, err := e.BuildSnapshot(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(snap.ByZone) != len(testZones) {
		t.Fatalf("expected %d zones, got %d", len(testZones), len(snap.ByZone))
	}
	if len(snap.ByCheckpoint) != len(testCheckpoints) {
		t.Fatalf("expected %d checkpoints, got %d", len(testCheckpoints), len(snap.ByCheckpoint))
	}
	for _, z := range snap.ByZone {
		if z.Requesters == nil || len(z.Requesters) != 0 {
			t.Fatalf("zone %s: expected empty, non-nil requester list", z.ZoneID)
		}
	}
	for i, cp := range snap.ByCheckpoint {
		if cp.SequenceOrder != i+1 {
			t.Fatalf("checkpoints out of route order: %+v", snap.ByCheckpoint)
		}
		if cp.Carriers == nil || len(cp.Carriers) != 0 {
			t.Fatalf("checkpoint %s: expected empty, non-nil carrier list", cp.CheckpointID)
		}
	}
}

func TestSnapshotGroupsAndDecorates(t *testing.T) {
	ctx := context.Background()
	store := session.NewMemoryStore()
	e := newTestEngine(store)

	if _, err := store.Start(ctx, "u1", models.RoleRequester, "z1"); err != nil {
		t.Fatal(err)
	}
	if _, err := store.Start(ctx, "d1", models.RoleCarrier, "c3"); err != nil {
		t.Fatal(err)
	}

	snap, err := e.BuildSnapshot(ctx)
	if err != nil {
		t.Fatal(err)
	}

	z1 := snap.ByZone[0]
	if z1.ZoneID != "z1" || len(z1.Requesters) != 1 {
		t.Fatalf("expected one requester in z1, got %+v", z1)
	}
	if got := z1.Requesters[0]; got.Name != "Asha" || got.Branch != "CSE" {
		t.Fatalf("requester view not decorated: %+v", got)
	}
	if len(snap.ByZone[1].Requesters) != 0 {
		t.Fatalf("z2 should be empty: %+v", snap.ByZone[1])
	}

	c3 := snap.ByCheckpoint[2]
	if c3.CheckpointID != "c3" || len(c3.Carriers) != 1 {
		t.Fatalf("expected one carrier at c3, got %+v", c3)
	}
	if got := c3.Carriers[0]; got.Name != "Ravi" || got.VehicleRegNo != "TS09AB1234" {
		t.Fatalf("carrier view not decorated: %+v", got)
	}
}

func TestSnapshotReflectsCheckpointMove(t *testing.T) {
	ctx := context.Background()
	store := session.NewMemoryStore()
	e := newTestEngine(store)

	if _, err := store.Start(ctx, "d1", models.RoleCarrier, "c1"); err != nil {
		t.Fatal(err)
	}
	if _, err := store.UpdateLocation(ctx, "d1", "c2"); err != nil {
		t.Fatal(err)
	}

	snap, err := e.BuildSnapshot(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(snap.ByCheckpoint[0].Carriers) != 0 {
		t.Fatalf("carrier still listed at c1: %+v", snap.ByCheckpoint[0])
	}
	if len(snap.ByCheckpoint[1].Carriers) != 1 {
		t.Fatalf("carrier missing at c2: %+v", snap.ByCheckpoint[1])
	}
}

type recordingWire struct {
	msgs []any
}

func (r *recordingWire) WriteJSON(v any) error {
	r.msgs = append(r.msgs, v)
	return nil
}

func TestBroadcastReachesAllClients(t *testing.T) {
	e := newTestEngine(session.NewMemoryStore())

	w1, w2 := &recordingWire{}, &recordingWire{}
	e.registry.Add(NewClient("u1", models.RoleRequester, w1))
	e.registry.Add(NewClient("d1", models.RoleCarrier, w2))

	e.Broadcast(context.Background())

	if len(w1.msgs) != 1 || len(w2.msgs) != 1 {
		t.Fatalf("expected one message each, got %d and %d", len(w1.msgs), len(w2.msgs))
	}
	msg, ok := w1.msgs[0].(snapshotMessage)
	if !ok || msg.Type != "snapshot" {
		t.Fatalf("unexpected message: %#v", w1.msgs[0])
	}
}
