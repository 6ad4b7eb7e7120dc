package sweep

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/example/shuttle-presence/internal/models"
	"github.com/example/shuttle-presence/internal/protocol"
	"github.com/example/shuttle-presence/internal/session"
)

type fakeNotifier struct {
	byUser map[string][]any
}

func (f *fakeNotifier) SendUser(userID string, v any) int {
	if f.byUser == nil {
		f.byUser = make(map[string][]any)
	}
	f.byUser[userID] = append(f.byUser[userID], v)
	return 1
}

type fakeBroadcaster struct{ calls int }

func (f *fakeBroadcaster) Broadcast(ctx context.Context) { f.calls++ }

func TestSweepEndsExpiredCarriers(t *testing.T) {
	ctx := context.Background()
	store := session.NewMemoryStore()
	notifier := &fakeNotifier{}
	bc := &fakeBroadcaster{}

	for _, u := range []string{"d1", "d2"} {
		if _, err := store.Start(ctx, u, models.RoleCarrier, "c1"); err != nil {
			t.Fatal(err)
		}
	}
	// a requester session must never be touched by the sweep
	if _, err := store.Start(ctx, "u1", models.RoleRequester, "z1"); err != nil {
		t.Fatal(err)
	}

	sw := &Sweeper{
		Store:     store,
		Registry:  notifier,
		Engine:    bc,
		Interval:  time.Minute,
		MaxActive: 15 * time.Minute,
		Logger:    slog.Default(),
		Now:       func() time.Time { return time.Now().Add(16 * time.Minute) },
	}

	if n := sw.SweepOnce(ctx); n != 2 {
		t.Fatalf("expected 2 expirations, got %d", n)
	}
	if bc.calls != 1 {
		t.Fatalf("expected exactly one broadcast for the batch, got %d", bc.calls)
	}
	for _, u := range []string{"d1", "d2"} {
		msgs := notifier.byUser[u]
		if len(msgs) != 1 {
			t.Fatalf("user %s: expected one auto_stopped, got %d", u, len(msgs))
		}
		stopped, ok := msgs[0].(protocol.AutoStopped)
		if !ok || stopped.Reason != protocol.ReasonTimeout {
			t.Fatalf("user %s: unexpected message %#v", u, msgs[0])
		}
	}

	requester, _ := store.GetActive(ctx, "u1")
	if !requester.Active() {
		t.Fatal("requester session was ended by the carrier sweep")
	}

	// second sweep finds nothing further
	if n := sw.SweepOnce(ctx); n != 0 {
		t.Fatalf("expected idempotent second sweep, got %d", n)
	}
	if bc.calls != 1 {
		t.Fatalf("second sweep must not broadcast, got %d calls", bc.calls)
	}
}

func TestSweepSkipsFreshSessions(t *testing.T) {
	ctx := context.Background()
	store := session.NewMemoryStore()
	sw := &Sweeper{
		Store:     store,
		Registry:  &fakeNotifier{},
		Engine:    &fakeBroadcaster{},
		Interval:  time.Minute,
		MaxActive: 15 * time.Minute,
		Logger:    slog.Default(),
	}
	if _, err := store.Start(ctx, "d1", models.RoleCarrier, "c1"); err != nil {
		t.Fatal(err)
	}
	if n := sw.SweepOnce(ctx); n != 0 {
		t.Fatalf("fresh session expired: %d", n)
	}
	active, _ := store.GetActive(ctx, "d1")
	if !active.Active() {
		t.Fatal("fresh session was ended")
	}
}

// failingStore wraps the memory store and fails Stop for one user, to prove
// the sweep continues past per-user failures.
type failingStore struct {
	session.Store
	failUser string
}

func (f *failingStore) Stop(ctx context.Context, userID string) (*models.Session, error) {
	if userID == f.failUser {
		return nil, errors.New("store unavailable")
	}
	return f.Store.Stop(ctx, userID)
}

func TestSweepContinuesPastFailures(t *testing.T) {
	ctx := context.Background()
	mem := session.NewMemoryStore()
	for _, u := range []string{"d1", "d2", "d3"} {
		if _, err := mem.Start(ctx, u, models.RoleCarrier, "c1"); err != nil {
			t.Fatal(err)
		}
	}
	bc := &fakeBroadcaster{}
	sw := &Sweeper{
		Store:     &failingStore{Store: mem, failUser: "d2"},
		Registry:  &fakeNotifier{},
		Engine:    bc,
		Interval:  time.Minute,
		MaxActive: 15 * time.Minute,
		Logger:    slog.Default(),
		Now:       func() time.Time { return time.Now().Add(time.Hour) },
	}

	if n := sw.SweepOnce(ctx); n != 2 {
		t.Fatalf("expected 2 expirations despite the failure, got %d", n)
	}
	d2, _ := mem.GetActive(ctx, "d2")
	if !d2.Active() {
		t.Fatal("d2 should still be active after its stop failed")
	}
}
