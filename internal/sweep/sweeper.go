// Package sweep enforces the carrier session duration ceiling with a
// periodic scan. The ceiling is a hard cap on session age, not an idle
// timeout.
package sweep

import (
	"context"
	"log/slog"
	"time"

	"github.com/example/shuttle-presence/internal/ingest"
	"github.com/example/shuttle-presence/internal/models"
	"github.com/example/shuttle-presence/internal/observability"
	"github.com/example/shuttle-presence/internal/protocol"
	"github.com/example/shuttle-presence/internal/session"
)

// Notifier delivers a message to all connections of one user. Satisfied by
// broadcast.Registry.
type Notifier interface {
	SendUser(userID string, v any) int
}

// Broadcaster fans out one snapshot to the whole group. Satisfied by
// broadcast.Engine.
type Broadcaster interface {
	Broadcast(ctx context.Context)
}

type Sweeper struct {
	Store     session.Store
	Registry  Notifier
	Engine    Broadcaster
	Producer  ingest.Publisher // optional
	Interval  time.Duration
	MaxActive time.Duration
	Logger    *slog.Logger

	Now func() time.Time // optional, defaults to time.Now
}

func (s *Sweeper) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

// Run sweeps at the configured interval until the context is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.SweepOnce(ctx)
		}
	}
}

// SweepOnce ends every active carrier session past the ceiling and returns
// how many it ended. A batch of expirations triggers exactly one broadcast.
// Per-session failures are logged and the sweep continues.
func (s *Sweeper) SweepOnce(ctx context.Context) int {
	active, err := s.Store.ActiveSessions(ctx, models.RoleCarrier)
	if err != nil {
		s.Logger.Error("sweep: listing active sessions failed", "error", err)
		return 0
	}

	cutoff := s.now().Add(-s.MaxActive)
	expired := 0
	for _, sess := range active {
		if sess.StartedAt.After(cutoff) {
			continue
		}
		ended, err := s.Store.Stop(ctx, sess.UserID)
		if err != nil {
			s.Logger.Error("sweep: stop failed", "user_id", sess.UserID, "error", err)
			continue
		}
		if ended == nil {
			// already ended elsewhere (inline ceiling check); nothing to do
			continue
		}
		expired++
		observability.SessionsEnded.WithLabelValues(string(models.RoleCarrier), protocol.ReasonTimeout).Inc()
		s.notify(ended.UserID)
		s.publish(ctx, ended)
	}

	if expired > 0 {
		s.Logger.Info("sweep ended expired sessions", "count", expired)
		s.Engine.Broadcast(ctx)
	}
	return expired
}

func (s *Sweeper) notify(userID string) {
	s.Registry.SendUser(userID, protocol.AutoStopped{
		Type:    "auto_stopped",
		Reason:  protocol.ReasonTimeout,
		Message: "Ride automatically ended after the maximum duration",
	})
}

func (s *Sweeper) publish(ctx context.Context, sess *models.Session) {
	if s.Producer == nil {
		return
	}
	if err := s.Producer.PublishSessionEvent(ctx, ingest.EventFromSession(ingest.KindExpired, sess)); err != nil {
		s.Logger.Warn("sweep: session event publish failed", "session_id", sess.ID, "error", err)
	}
}
