// Package protocol implements the per-connection state machine: it admits
// authenticated clients into the broadcast group, validates their events
// against role and session state, and drives the store, the geospatial
// resolvers and the broadcast engine.
package protocol

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/gorilla/websocket"

	"github.com/example/shuttle-presence/internal/auth"
	"github.com/example/shuttle-presence/internal/broadcast"
	"github.com/example/shuttle-presence/internal/geo"
	"github.com/example/shuttle-presence/internal/ingest"
	"github.com/example/shuttle-presence/internal/models"
	"github.com/example/shuttle-presence/internal/observability"
	"github.com/example/shuttle-presence/internal/session"
)

// Handler wires client events to the session store, the geofence resolver,
// the checkpoint locator and the broadcast engine. One Handler serves all
// connections; per-connection state lives in the broadcast.Client.
type Handler struct {
	Store     session.Store
	Resolver  *geo.Resolver
	Route     *geo.Route
	Engine    *broadcast.Engine
	Registry  *broadcast.Registry
	Producer  ingest.Publisher // optional
	MaxActive time.Duration    // carrier session ceiling
	Logger    *slog.Logger

	Now func() time.Time // optional, defaults to time.Now
}

func (h *Handler) now() time.Time {
	if h.Now != nil {
		return h.Now()
	}
	return time.Now()
}

// HandleConn runs the connection loop until the client disconnects.
// Disconnection only removes the client from the broadcast group; the
// underlying session keeps running so a reconnect resumes it.
func (h *Handler) HandleConn(ctx context.Context, ws *websocket.Conn, ident auth.Identity) {
	client := broadcast.NewClient(ident.UserID, ident.Role, ws)
	h.Registry.Add(client)
	defer h.Registry.Remove(client)

	h.Logger.Info("client connected", "user_id", ident.UserID, "role", ident.Role)

	// reconnecting clients recover state without polling
	if err := h.Engine.SendSnapshotTo(ctx, client); err != nil {
		h.Logger.Warn("initial snapshot send failed", "user_id", ident.UserID, "error", err)
	}
	h.sendStatus(ctx, client)

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			break
		}
		var ev ClientEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			observability.EventErrors.WithLabelValues("malformed").Inc()
			_ = client.Send(errEvent("malformed event"))
			continue
		}
		h.Dispatch(ctx, client, ev)
	}

	h.Logger.Info("client disconnected", "user_id", ident.UserID, "role", ident.Role)
}

// Dispatch routes one event. A panic in a handler is contained to that
// event; the connection keeps serving.
func (h *Handler) Dispatch(ctx context.Context, client *broadcast.Client, ev ClientEvent) {
	defer func() {
		if rec := recover(); rec != nil {
			h.Logger.Error("event handler panic", "user_id", client.UserID, "event", ev.Type, "error", rec)
			_ = client.Send(errEvent("internal error"))
		}
	}()

	switch ev.Type {
	case EventRequestPickup:
		h.requestPickup(ctx, client, ev.Lat, ev.Lon)
	case EventCancelPickup:
		h.cancelPickup(ctx, client)
	case EventRequesterLocation:
		h.requesterLocationUpdate(ctx, client, ev.Lat, ev.Lon)
	case EventStartRide:
		h.startRide(ctx, client, ev.Lat, ev.Lon)
	case EventEndRide:
		h.endRide(ctx, client)
	case EventCarrierLocation:
		h.carrierLocationUpdate(ctx, client, ev.Lat, ev.Lon)
	case EventGetStatus:
		h.sendStatus(ctx, client)
	default:
		observability.EventErrors.WithLabelValues("unknown").Inc()
		_ = client.Send(errEvent("unknown event type"))
	}
}

func (h *Handler) requireRole(client *broadcast.Client, role models.Role) bool {
	if client.Role == role {
		return true
	}
	observability.EventErrors.WithLabelValues("wrong_role").Inc()
	_ = client.Send(errEvent("event not allowed for role " + string(client.Role)))
	return false
}

func (h *Handler) requestPickup(ctx context.Context, client *broadcast.Client, lat, lon float64) {
	if !h.requireRole(client, models.RoleRequester) {
		return
	}
	zone, err := h.Resolver.ResolveZone(lat, lon)
	if err != nil {
		observability.EventErrors.WithLabelValues("invalid_coordinate").Inc()
		_ = client.Send(errEvent("invalid coordinates"))
		return
	}
	if zone == nil {
		_ = client.Send(ack(false, "You are not inside any designated zone"))
		return
	}

	sess, err := h.Store.Start(ctx, client.UserID, models.RoleRequester, zone.ID)
	if errors.Is(err, session.ErrAlreadyActive) {
		_ = client.Send(ack(false, "Pickup request already active"))
		return
	}
	if err != nil {
		h.storeFailure(client, "request_pickup", err)
		return
	}

	observability.SessionsStarted.WithLabelValues(string(models.RoleRequester)).Inc()
	h.publish(ctx, ingest.KindStarted, sess)

	reply := ack(true, "Pickup requested")
	reply.SessionID = sess.ID
	reply.LocationName = zone.Name
	_ = client.Send(reply)

	h.Engine.Broadcast(ctx)
}

func (h *Handler) cancelPickup(ctx context.Context, client *broadcast.Client) {
	if !h.requireRole(client, models.RoleRequester) {
		return
	}
	h.stop(ctx, client, "Pickup stopped", "No active pickup")
}

func (h *Handler) requesterLocationUpdate(ctx context.Context, client *broadcast.Client, lat, lon float64) {
	if client.Role != models.RoleRequester {
		return
	}
	active, err := h.Store.GetActive(ctx, client.UserID)
	if err != nil {
		h.Logger.Warn("active session read failed", "user_id", client.UserID, "error", err)
		return
	}
	if !active.Active() {
		return
	}

	zone, err := h.Resolver.ResolveZone(lat, lon)
	if err != nil {
		observability.EventErrors.WithLabelValues("invalid_coordinate").Inc()
		_ = client.Send(errEvent("invalid coordinates"))
		return
	}

	if zone == nil {
		// geofence exit ends the session immediately; distinct from a
		// manual cancel
		ended, err := h.Store.Stop(ctx, client.UserID)
		if err != nil {
			h.storeFailure(client, "geofence_exit", err)
			return
		}
		if ended == nil {
			return
		}
		observability.SessionsEnded.WithLabelValues(string(models.RoleRequester), ReasonGeofenceExit).Inc()
		h.publish(ctx, ingest.KindExpired, ended)
		_ = client.Send(autoStopped(ReasonGeofenceExit, "You left the zone area. Pickup stopped automatically."))
		h.Engine.Broadcast(ctx)
		return
	}

	if zone.ID == active.LocationRefID {
		return
	}
	changed, err := h.Store.UpdateLocation(ctx, client.UserID, zone.ID)
	if err != nil {
		h.storeFailure(client, "location_update", err)
		return
	}
	if changed {
		h.Engine.Broadcast(ctx)
	}
}

func (h *Handler) startRide(ctx context.Context, client *broadcast.Client, lat, lon float64) {
	if !h.requireRole(client, models.RoleCarrier) {
		return
	}
	cp, err := h.Route.Nearest(lat, lon)
	if errors.Is(err, geo.ErrNoCheckpoints) {
		// deployment fault, not a client mistake: alert operators
		observability.EventErrors.WithLabelValues("config").Inc()
		h.Logger.Error("no checkpoints configured")
		_ = client.Send(errEvent("no checkpoints configured"))
		return
	}
	if err != nil {
		observability.EventErrors.WithLabelValues("invalid_coordinate").Inc()
		_ = client.Send(errEvent("invalid coordinates"))
		return
	}

	sess, err := h.Store.Start(ctx, client.UserID, models.RoleCarrier, cp.ID)
	if errors.Is(err, session.ErrAlreadyActive) {
		_ = client.Send(ack(false, "Ride already active"))
		return
	}
	if err != nil {
		h.storeFailure(client, "start_ride", err)
		return
	}

	observability.SessionsStarted.WithLabelValues(string(models.RoleCarrier)).Inc()
	h.publish(ctx, ingest.KindStarted, sess)

	reply := ack(true, "Ride started")
	reply.SessionID = sess.ID
	reply.LocationName = cp.Name
	_ = client.Send(reply)

	h.Engine.Broadcast(ctx)
}

func (h *Handler) endRide(ctx context.Context, client *broadcast.Client) {
	if !h.requireRole(client, models.RoleCarrier) {
		return
	}
	h.stop(ctx, client, "Ride ended", "No active ride")
}

func (h *Handler) carrierLocationUpdate(ctx context.Context, client *broadcast.Client, lat, lon float64) {
	if client.Role != models.RoleCarrier {
		return
	}
	active, err := h.Store.GetActive(ctx, client.UserID)
	if err != nil {
		h.Logger.Warn("active session read failed", "user_id", client.UserID, "error", err)
		return
	}
	if !active.Active() {
		return
	}

	cp, err := h.Route.Nearest(lat, lon)
	if err != nil {
		if errors.Is(err, geo.ErrNoCheckpoints) {
			observability.EventErrors.WithLabelValues("config").Inc()
			h.Logger.Error("no checkpoints configured")
		} else {
			observability.EventErrors.WithLabelValues("invalid_coordinate").Inc()
		}
		_ = client.Send(errEvent("invalid coordinates"))
		return
	}

	if cp.ID != active.LocationRefID {
		changed, err := h.Store.UpdateLocation(ctx, client.UserID, cp.ID)
		if err != nil {
			h.storeFailure(client, "location_update", err)
			return
		}
		if changed {
			_ = client.Send(CheckpointUpdate{Type: "checkpoint_update", CheckpointID: cp.ID, CheckpointName: cp.Name})
			h.Engine.Broadcast(ctx)
		}
	}

	// inline ceiling check: carriers report far more often than the sweep
	// interval. Stop is idempotent, so crossing with the sweep is harmless.
	if h.now().Sub(active.StartedAt) >= h.MaxActive {
		ended, err := h.Store.Stop(ctx, client.UserID)
		if err != nil {
			h.storeFailure(client, "timeout", err)
			return
		}
		if ended == nil {
			return
		}
		observability.SessionsEnded.WithLabelValues(string(models.RoleCarrier), ReasonTimeout).Inc()
		h.publish(ctx, ingest.KindExpired, ended)
		_ = client.Send(autoStopped(ReasonTimeout, "Ride automatically ended after the maximum duration"))
		h.Engine.Broadcast(ctx)
	}
}

// stop is the shared explicit-stop path. Always a no-op-safe success reply;
// broadcast only when a session actually ended.
func (h *Handler) stop(ctx context.Context, client *broadcast.Client, stoppedMsg, idleMsg string) {
	ended, err := h.Store.Stop(ctx, client.UserID)
	if err != nil {
		h.storeFailure(client, "stop", err)
		return
	}
	if ended == nil {
		_ = client.Send(ack(true, idleMsg))
		return
	}
	observability.SessionsEnded.WithLabelValues(string(ended.Role), "manual").Inc()
	h.publish(ctx, ingest.KindStopped, ended)
	reply := ack(true, stoppedMsg)
	reply.SessionID = ended.ID
	_ = client.Send(reply)
	h.Engine.Broadcast(ctx)
}

func (h *Handler) sendStatus(ctx context.Context, client *broadcast.Client) {
	last, err := h.Store.GetLast(ctx, client.UserID)
	if err != nil {
		h.Logger.Warn("status read failed", "user_id", client.UserID, "error", err)
		_ = client.Send(errEvent("failed to read session status"))
		return
	}
	status := SessionStatus{Type: "session_status"}
	if last.Active() {
		status.Active = true
		status.SessionID = last.ID
		status.LocationRefID = last.LocationRefID
	}
	_ = client.Send(status)
}

// storeFailure answers a failed mutation with a generic error so the client
// can retry the same action; its own state is unchanged.
func (h *Handler) storeFailure(client *broadcast.Client, op string, err error) {
	observability.EventErrors.WithLabelValues("store").Inc()
	h.Logger.Error("store operation failed", "op", op, "user_id", client.UserID, "error", err)
	_ = client.Send(errEvent("temporary failure, please retry"))
}

func (h *Handler) publish(ctx context.Context, kind string, sess *models.Session) {
	if h.Producer == nil {
		return
	}
	if err := h.Producer.PublishSessionEvent(ctx, ingest.EventFromSession(kind, sess)); err != nil {
		h.Logger.Warn("session event publish failed", "kind", kind, "session_id", sess.ID, "error", err)
	}
}
