package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/example/shuttle-presence/internal/models"
)

func TestStartStopLifecycle(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	sess, err := s.Start(ctx, "u1", models.RoleRequester, "z1")
	if err != nil {
		t.Fatal(err)
	}
	if sess.State != models.StateActive || sess.LocationRefID != "z1" {
		t.Fatalf("unexpected session: %+v", sess)
	}

	active, err := s.GetActive(ctx, "u1")
	if err != nil {
		t.Fatal(err)
	}
	if active == nil || active.ID != sess.ID {
		t.Fatalf("expected active session %s, got %+v", sess.ID, active)
	}

	ended, err := s.Stop(ctx, "u1")
	if err != nil {
		t.Fatal(err)
	}
	if ended.State != models.StateEnded || ended.EndedAt.IsZero() {
		t.Fatalf("expected ended session, got %+v", ended)
	}

	active, err = s.GetActive(ctx, "u1")
	if err != nil {
		t.Fatal(err)
	}
	if active != nil {
		t.Fatalf("expected no active session, got %+v", active)
	}
}

func TestStartWhileActiveDoesNotAlterSession(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	first, err := s.Start(ctx, "u1", models.RoleRequester, "z1")
	if err != nil {
		t.Fatal(err)
	}

	if _, err := s.Start(ctx, "u1", models.RoleRequester, "z2"); !errors.Is(err, ErrAlreadyActive) {
		t.Fatalf("expected ErrAlreadyActive, got %v", err)
	}

	active, _ := s.GetActive(ctx, "u1")
	if active.ID != first.ID || active.LocationRefID != "z1" || !active.StartedAt.Equal(first.StartedAt) {
		t.Fatalf("rejected start altered the existing session: %+v", active)
	}
}

func TestStopWithoutActiveIsNoOp(t *testing.T) {
	s := NewMemoryStore()
	sess, err := s.Stop(context.Background(), "ghost")
	if err != nil {
		t.Fatal(err)
	}
	if sess != nil {
		t.Fatalf("expected nil, got %+v", sess)
	}
}

func TestUpdateLocation(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	if _, err := s.Start(ctx, "u1", models.RoleCarrier, "c1"); err != nil {
		t.Fatal(err)
	}

	changed, err := s.UpdateLocation(ctx, "u1", "c2")
	if err != nil {
		t.Fatal(err)
	}
	if !changed {
		t.Fatal("expected change")
	}

	// same location: no change reported
	changed, err = s.UpdateLocation(ctx, "u1", "c2")
	if err != nil {
		t.Fatal(err)
	}
	if changed {
		t.Fatal("expected no change for same location")
	}

	// no active session: no change
	if _, err := s.Stop(ctx, "u1"); err != nil {
		t.Fatal(err)
	}
	changed, _ = s.UpdateLocation(ctx, "u1", "c3")
	if changed {
		t.Fatal("expected no change without active session")
	}
}

func TestGetLastSurvivesStop(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	started, _ := s.Start(ctx, "u1", models.RoleCarrier, "c1")
	if _, err := s.Stop(ctx, "u1"); err != nil {
		t.Fatal(err)
	}
	last, err := s.GetLast(ctx, "u1")
	if err != nil {
		t.Fatal(err)
	}
	if last == nil || last.ID != started.ID || last.State != models.StateEnded {
		t.Fatalf("expected ended last session, got %+v", last)
	}
}

func TestActiveByLocationOrdering(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	base := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	tick := 0
	s.now = func() time.Time { tick++; return base.Add(time.Duration(tick) * time.Second) }

	for _, u := range []string{"u1", "u2", "u3"} {
		if _, err := s.Start(ctx, u, models.RoleRequester, "z1"); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := s.Start(ctx, "u4", models.RoleRequester, "z2"); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Start(ctx, "carrier1", models.RoleCarrier, "c1"); err != nil {
		t.Fatal(err)
	}

	groups, err := s.ActiveByLocation(ctx, models.RoleRequester)
	if err != nil {
		t.Fatal(err)
	}
	if len(groups) != 2 {
		t.Fatalf("expected 2 groups, got %d", len(groups))
	}
	z1 := groups["z1"]
	if len(z1) != 3 {
		t.Fatalf("expected 3 sessions in z1, got %d", len(z1))
	}
	for i := 1; i < len(z1); i++ {
		if z1[i].StartedAt.Before(z1[i-1].StartedAt) {
			t.Fatalf("group not ordered by start time: %v then %v", z1[i-1].StartedAt, z1[i].StartedAt)
		}
	}
	for _, sess := range groups["z2"] {
		if sess.Role != models.RoleRequester {
			t.Fatalf("carrier leaked into requester grouping: %+v", sess)
		}
	}
}

func TestAtMostOneActivePerUserUnderChurn(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	for i := 0; i < 50; i++ {
		_, startErr := s.Start(ctx, "u1", models.RoleCarrier, "c1")
		if i%3 == 2 {
			if _, err := s.Stop(ctx, "u1"); err != nil {
				t.Fatal(err)
			}
		}
		if startErr != nil && !errors.Is(startErr, ErrAlreadyActive) {
			t.Fatal(startErr)
		}
		active, _ := s.ActiveSessions(ctx, models.RoleCarrier)
		if len(active) > 1 {
			t.Fatalf("invariant broken: %d active sessions for one user", len(active))
		}
	}
}
