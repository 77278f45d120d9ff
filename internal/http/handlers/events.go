package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/coder/websocket"

	"modelgen/internal/domain"
	"modelgen/internal/jobs"
	"modelgen/internal/notify"
)

const (
	eventBuffer  = 64
	writeTimeout = 5 * time.Second
)

// Event is one message on the /events stream.
type Event struct {
	Type         string               `json:"type"`
	JobID        string               `json:"jobId,omitempty"`
	Job          *domain.Job          `json:"job,omitempty"`
	Jobs         []domain.Job         `json:"jobs,omitempty"`
	Notification *notify.Notification `json:"notification,omitempty"`
}

func changeEvent(c jobs.Change) Event {
	e := Event{Type: "job." + string(c.Kind), JobID: c.JobID}
	if c.Kind != jobs.ChangeRestored {
		job := c.Job
		e.Job = &job
	}
	return e
}

// Events upgrades to a WebSocket and streams registry changes and user
// notifications. The first message is a snapshot of every job. Events are
// dropped for clients that fall behind; a restored or snapshot message lets
// them resynchronize.
func (a *App) Events(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: a.origins})
	if err != nil {
		a.logger.Debug().Err(err).Msg("events: upgrade rejected")
		return
	}
	defer conn.CloseNow()

	changes := make(chan Event, eventBuffer)
	unsubscribe := a.registry.Subscribe(func(c jobs.Change) {
		select {
		case changes <- changeEvent(c):
		default:
		}
	})
	defer unsubscribe()

	var notes <-chan notify.Notification
	if a.hub != nil {
		ch, cancel := a.hub.Subscribe()
		defer cancel()
		notes = ch
	}

	ctx := conn.CloseRead(r.Context())
	if err := writeEvent(ctx, conn, Event{Type: "snapshot", Jobs: a.registry.List()}); err != nil {
		return
	}
	for {
		var e Event
		select {
		case <-ctx.Done():
			conn.Close(websocket.StatusNormalClosure, "closing")
			return
		case e = <-changes:
			if e.Type == "job."+string(jobs.ChangeRestored) {
				e = Event{Type: e.Type, Jobs: a.registry.List()}
			}
		case n, ok := <-notes:
			if !ok {
				conn.Close(websocket.StatusGoingAway, "shutting down")
				return
			}
			e = Event{Type: "notification", JobID: n.JobID, Notification: &n}
		}
		if err := writeEvent(ctx, conn, e); err != nil {
			a.logger.Debug().Err(err).Msg("events: client gone")
			return
		}
	}
}

func writeEvent(ctx context.Context, conn *websocket.Conn, e Event) error {
	data, err := json.Marshal(e)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return conn.Write(ctx, websocket.MessageText, data)
}
