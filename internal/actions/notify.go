package actions

import (
	"sync"
	"time"

	"github.com/miradorstack/report-viewer/internal/models"
)

// Level classifies a notification.
type Level string

const (
	LevelSuccess Level = "success"
	LevelError   Level = "error"
)

// Notification is a transient message for the viewer about one action run.
type Notification struct {
	Seq       uint64           `json:"seq"`
	Level     Level            `json:"level"`
	AnomalyID models.AnomalyID `json:"anomalyId"`
	Message   string           `json:"message"`
	At        time.Time        `json:"at"`
}

// Notifier receives action outcome notifications. Implementations must be safe
// for concurrent use since runs for distinct anomalies complete independently.
type Notifier interface {
	Notify(n Notification)
}

type discardNotifier struct{}

func (discardNotifier) Notify(Notification) {}

// Feed is a bounded, in-memory Notifier. When full it drops the oldest entry.
type Feed struct {
	mu      sync.Mutex
	entries []Notification
	maxSize int
	seq     uint64
	changed chan struct{}
}

// NewFeed creates a feed keeping at most maxSize notifications.
func NewFeed(maxSize int) *Feed {
	if maxSize <= 0 {
		maxSize = 50
	}
	return &Feed{
		entries: make([]Notification, 0, maxSize),
		maxSize: maxSize,
		changed: make(chan struct{}),
	}
}

// Notify appends n, assigning it the next sequence number.
func (f *Feed) Notify(n Notification) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.seq++
	n.Seq = f.seq
	if len(f.entries) >= f.maxSize {
		f.entries = f.entries[1:]
	}
	f.entries = append(f.entries, n)

	close(f.changed)
	f.changed = make(chan struct{})
}

// Changed returns a channel that is closed on the next Notify. Take it before
// calling Since so no notification is missed between the two calls.
func (f *Feed) Changed() <-chan struct{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.changed
}

// Since returns notifications with a sequence number greater than after, oldest first.
func (f *Feed) Since(after uint64) []Notification {
	f.mu.Lock()
	defer f.mu.Unlock()

	out := make([]Notification, 0, len(f.entries))
	for _, n := range f.entries {
		if n.Seq > after {
			out = append(out, n)
		}
	}
	return out
}
