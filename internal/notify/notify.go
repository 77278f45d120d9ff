// Package notify carries user-facing notifications (toasts) and fans them out
// to log output and live subscribers.
package notify

import (
	"sync"
	"time"

	"modelgen/internal/infra"
)

// Level is the severity shown to the user.
type Level string

const (
	LevelInfo    Level = "info"
	LevelSuccess Level = "success"
	LevelWarning Level = "warning"
	LevelError   Level = "error"
)

// Notification is one message for the user.
type Notification struct {
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Level       Level     `json:"level"`
	JobID       string    `json:"jobId,omitempty"`
	At          time.Time `json:"at"`
}

// Notifier accepts notifications. Implementations must not block.
type Notifier interface {
	Notify(n Notification)
}

// Func adapts a function to Notifier.
type Func func(Notification)

func (f Func) Notify(n Notification) { f(n) }

// Discard drops every notification.
var Discard Notifier = Func(func(Notification) {})

// Log writes notifications through zerolog.
type Log struct {
	logger *infra.Logger
}

func NewLog(logger *infra.Logger) *Log {
	return &Log{logger: infra.OrDiscard(logger)}
}

func (l *Log) Notify(n Notification) {
	evt := l.logger.Info()
	switch n.Level {
	case LevelWarning:
		evt = l.logger.Warn()
	case LevelError:
		evt = l.logger.Error()
	}
	evt.Str("job_id", n.JobID).Str("title", n.Title).Msg(n.Description)
}

// Hub broadcasts notifications to subscribers. Slow subscribers miss messages
// instead of blocking the sender.
type Hub struct {
	mu     sync.RWMutex
	subs   map[chan Notification]struct{}
	buffer int
}

func NewHub(buffer int) *Hub {
	if buffer <= 0 {
		buffer = 16
	}
	return &Hub{subs: make(map[chan Notification]struct{}), buffer: buffer}
}

func (h *Hub) Notify(n Notification) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for ch := range h.subs {
		select {
		case ch <- n:
		default:
		}
	}
}

// Subscribe returns a channel of notifications and a cancel function that
// closes it.
func (h *Hub) Subscribe() (<-chan Notification, func()) {
	ch := make(chan Notification, h.buffer)
	h.mu.Lock()
	h.subs[ch] = struct{}{}
	h.mu.Unlock()
	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, ch)
			h.mu.Unlock()
			close(ch)
		})
	}
}

// Multi forwards to every notifier in order.
type Multi []Notifier

func (m Multi) Notify(n Notification) {
	if n.At.IsZero() {
		n.At = time.Now()
	}
	for _, target := range m {
		if target != nil {
			target.Notify(n)
		}
	}
}

// Error builds an error-level notification.
func Error(title, description, jobID string) Notification {
	return Notification{Title: title, Description: description, Level: LevelError, JobID: jobID, At: time.Now()}
}

// Warning builds a warning-level notification.
func Warning(title, description, jobID string) Notification {
	return Notification{Title: title, Description: description, Level: LevelWarning, JobID: jobID, At: time.Now()}
}

// Success builds a success-level notification.
func Success(title, description, jobID string) Notification {
	return Notification{Title: title, Description: description, Level: LevelSuccess, JobID: jobID, At: time.Now()}
}
