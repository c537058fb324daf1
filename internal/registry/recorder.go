package registry

import (
	"log"
	"sync"
	"sync/atomic"
	"time"

	"screenspool/internal/constants"
)

type eventKind int

const (
	eventConnected eventKind = iota
	eventFrame
	eventDisconnected
)

type event struct {
	kind       eventKind
	sessionID  string
	hostname   string
	username   string
	remoteAddr string
	size       int
}

// Recorder decouples the collector's event loop from the store: the
// loop enqueues events on a buffered channel and a single goroutine
// applies them. A full queue drops the event rather than stall the
// reactor.
type Recorder struct {
	store   Store
	events  chan event
	dropped atomic.Int64
	wg      sync.WaitGroup
}

func NewRecorder(store Store) *Recorder {
	r := &Recorder{
		store:  store,
		events: make(chan event, constants.RecorderQueueSize),
	}

	r.wg.Add(1)
	go r.drain()

	return r
}

func (r *Recorder) Connected(sessionID, hostname, username, remoteAddr string) {
	if r == nil {
		return
	}
	r.enqueue(event{
		kind:       eventConnected,
		sessionID:  sessionID,
		hostname:   hostname,
		username:   username,
		remoteAddr: remoteAddr,
	})
}

func (r *Recorder) Frame(sessionID string, size int) {
	if r == nil {
		return
	}
	r.enqueue(event{kind: eventFrame, sessionID: sessionID, size: size})
}

func (r *Recorder) Disconnected(sessionID string) {
	if r == nil {
		return
	}
	r.enqueue(event{kind: eventDisconnected, sessionID: sessionID})
}

// Dropped reports how many events were discarded because the queue was
// full.
func (r *Recorder) Dropped() int64 {
	return r.dropped.Load()
}

// Close stops the drain goroutine after the queue empties and closes
// the store.
func (r *Recorder) Close() error {
	close(r.events)
	r.wg.Wait()
	return r.store.Close()
}

func (r *Recorder) enqueue(ev event) {
	select {
	case r.events <- ev:
	default:
		r.dropped.Add(1)
	}
}

func (r *Recorder) drain() {
	defer r.wg.Done()

	for ev := range r.events {
		r.apply(ev)
	}

	if n := r.dropped.Load(); n > 0 {
		log.Printf("Agent registry dropped %d events under load", n)
	}
}

func (r *Recorder) apply(ev event) {
	now := time.Now()

	switch ev.kind {
	case eventConnected:
		r.store.Save(&Entry{
			SessionID:   ev.sessionID,
			Hostname:    ev.hostname,
			Username:    ev.username,
			RemoteAddr:  ev.remoteAddr,
			ConnectedAt: now,
			LastSeen:    now,
		})

	case eventFrame:
		entry, ok := r.store.Get(ev.sessionID)
		if !ok {
			return
		}
		entry.Frames++
		entry.Bytes += int64(ev.size)
		entry.LastSeen = now
		r.store.Save(entry)

	case eventDisconnected:
		r.store.Delete(ev.sessionID)
	}
}
