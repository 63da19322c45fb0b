package api

import (
	"net/http"
	"time"

	"github.com/dmitrymomot/medialib/core/queue"
)

// stream serves the task event feed as server-sent events. On connect the
// client receives an init frame with the current task list, then frames as
// the bus publishes them, with a ping frame after each idle interval.
func (s *Server) stream(w http.ResponseWriter, r *http.Request) {
	// Subscribe before building the snapshot: an update published while
	// the snapshot is read then arrives buffered, so the client sees it
	// twice at worst, never not at all.
	sub := s.svc.Subscribe()
	defer s.svc.Unsubscribe(sub)

	init, err := s.svc.InitSnapshot(r.Context())
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	// The controller reaches flushing and deadlines through middleware
	// wrappers via Unwrap. The server write timeout would sever long-lived
	// streams, so it is lifted for this response; writers that support
	// neither deadlines nor flushing degrade to a one-shot snapshot.
	rc := http.NewResponseController(w)
	_ = rc.SetWriteDeadline(time.Time{})

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	send := func(frame []byte) bool {
		if _, err := w.Write(frame); err != nil {
			return false
		}
		return rc.Flush() == nil
	}

	if !send(init) {
		return
	}

	ping := time.NewTicker(s.ping)
	defer ping.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case msg, open := <-sub.Messages():
			if !open {
				return
			}
			if !send(msg) {
				return
			}
			ping.Reset(s.ping)
		case <-ping.C:
			if !send(queue.Frame(queue.EventPing, nil)) {
				return
			}
		}
	}
}
