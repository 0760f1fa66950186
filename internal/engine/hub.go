package engine

import (
	"sync"

	"github.com/jmylchreest/fetcharr/internal/models"
)

// ProgressEvent is a point-in-time snapshot of one session's progress.
type ProgressEvent struct {
	SessionID         string                `json:"session_id"`
	Status            models.DownloadStatus `json:"status"`
	CompletedSegments int                   `json:"completed_segments"`
	TotalSegments     int                   `json:"total_segments"`
	Error             string                `json:"error,omitempty"`
}

// ProgressHub fans progress events out to in-process subscribers. Publishing
// never blocks; a subscriber that falls behind loses events, which is fine
// for snapshots.
type ProgressHub struct {
	mu   sync.Mutex
	subs map[int]chan ProgressEvent
	next int
}

// NewProgressHub creates an empty hub.
func NewProgressHub() *ProgressHub {
	return &ProgressHub{subs: make(map[int]chan ProgressEvent)}
}

// Subscribe registers a subscriber with the given channel buffer and returns
// the event channel plus an unsubscribe function.
func (h *ProgressHub) Subscribe(buffer int) (<-chan ProgressEvent, func()) {
	if buffer < 1 {
		buffer = 1
	}
	ch := make(chan ProgressEvent, buffer)

	h.mu.Lock()
	id := h.next
	h.next++
	h.subs[id] = ch
	h.mu.Unlock()

	return ch, func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if _, ok := h.subs[id]; ok {
			delete(h.subs, id)
			close(ch)
		}
	}
}

// Publish delivers the event to every subscriber that has room.
func (h *ProgressHub) Publish(ev ProgressEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, ch := range h.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}
