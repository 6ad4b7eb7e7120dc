// Package broadcast computes the aggregated presence view and fans it out
// to every connected client.
package broadcast

import (
	"context"
	"log/slog"
	"time"

	"github.com/example/shuttle-presence/internal/directory"
	"github.com/example/shuttle-presence/internal/models"
	"github.com/example/shuttle-presence/internal/observability"
	"github.com/example/shuttle-presence/internal/session"
)

type Engine struct {
	store       session.Store
	dir         directory.Directory
	zones       []models.Zone       // ascending by id
	checkpoints []models.Checkpoint // ascending by sequence order
	registry    *Registry
	logger      *slog.Logger
}

func NewEngine(store session.Store, dir directory.Directory, zones []models.Zone, checkpoints []models.Checkpoint, registry *Registry, logger *slog.Logger) *Engine {
	return &Engine{
		store:       store,
		dir:         dir,
		zones:       zones,
		checkpoints: checkpoints,
		registry:    registry,
		logger:      logger,
	}
}

// BuildSnapshot aggregates all active sessions into per-zone and
// per-checkpoint groups. Every zone and checkpoint appears even with no
// activity, so clients can render empty states without a separate query.
func (e *Engine) BuildSnapshot(ctx context.Context) (*models.Snapshot, error) {
	byZone, err := e.store.ActiveByLocation(ctx, models.RoleRequester)
	if err != nil {
		return nil, err
	}
	byCheckpoint, err := e.store.ActiveByLocation(ctx, models.RoleCarrier)
	if err != nil {
		return nil, err
	}

	snap := &models.Snapshot{
		ByZone:       make([]models.ZoneActivity, 0, len(e.zones)),
		ByCheckpoint: make([]models.CheckpointActivity, 0, len(e.checkpoints)),
		GeneratedAt:  time.Now().UTC(),
	}

	for _, z := range e.zones {
		activity := models.ZoneActivity{
			ZoneID:     z.ID,
			ZoneName:   z.Name,
			Requesters: make([]models.RequesterView, 0, len(byZone[z.ID])),
		}
		for _, sess := range byZone[z.ID] {
			info := e.lookup(ctx, sess.UserID)
			activity.Requesters = append(activity.Requesters, models.RequesterView{
				UserID:    sess.UserID,
				Name:      info.Name,
				Year:      info.Year,
				Branch:    info.Branch,
				Section:   info.Section,
				SessionID: sess.ID,
				StartedAt: sess.StartedAt,
			})
		}
		snap.ByZone = append(snap.ByZone, activity)
	}

	for _, cp := range e.checkpoints {
		activity := models.CheckpointActivity{
			CheckpointID:   cp.ID,
			CheckpointName: cp.Name,
			SequenceOrder:  cp.SequenceOrder,
			Carriers:       make([]models.CarrierView, 0, len(byCheckpoint[cp.ID])),
		}
		for _, sess := range byCheckpoint[cp.ID] {
			info := e.lookup(ctx, sess.UserID)
			activity.Carriers = append(activity.Carriers, models.CarrierView{
				UserID:       sess.UserID,
				Name:         info.Name,
				VehicleRegNo: info.VehicleRegNo,
				SessionID:    sess.ID,
				StartedAt:    sess.StartedAt,
			})
		}
		snap.ByCheckpoint = append(snap.ByCheckpoint, activity)
	}

	return snap, nil
}

// lookup decorates a view with display attributes; a directory failure
// degrades to the bare user id.
func (e *Engine) lookup(ctx context.Context, userID string) models.UserInfo {
	info, err := e.dir.Lookup(ctx, userID)
	if err != nil {
		e.logger.Warn("directory lookup failed", "user_id", userID, "error", err)
		return models.UserInfo{ID: userID}
	}
	return info
}

type snapshotMessage struct {
	Type string `json:"type"`
	*models.Snapshot
}

// Broadcast computes one snapshot and sends it to every connected client as
// a single atomic message. Called after every state-changing event; never
// speculatively, never debounced.
func (e *Engine) Broadcast(ctx context.Context) {
	snap, err := e.BuildSnapshot(ctx)
	if err != nil {
		e.logger.Error("snapshot build failed", "error", err)
		return
	}
	n := e.registry.SendAll(snapshotMessage{Type: "snapshot", Snapshot: snap})
	observability.BroadcastsTotal.Inc()
	observability.BroadcastFanout.Observe(float64(n))
}

// SendSnapshotTo delivers one freshly built snapshot to a single client,
// used right after a connection is admitted.
func (e *Engine) SendSnapshotTo(ctx context.Context, c *Client) error {
	snap, err := e.BuildSnapshot(ctx)
	if err != nil {
		return err
	}
	return c.Send(snapshotMessage{Type: "snapshot", Snapshot: snap})
}
