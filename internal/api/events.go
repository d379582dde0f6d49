package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"packrip/internal/metrics"
)

const keepAliveEvery = 25 * time.Second

// handleEvents streams the caller's trade events as server-sent events. Each event only says
// that a trade changed; clients re-read the trade.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	id, ok := identityFrom(w, r)
	if !ok {
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	events, unsubscribe := s.hub.Subscribe(id.UserID())
	defer unsubscribe()
	metrics.RealtimeSubscribers.Inc()
	defer metrics.RealtimeSubscribers.Dec()

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, ": connected\n\n")
	flusher.Flush()

	keepAlive := time.NewTicker(keepAliveEvery)
	defer keepAlive.Stop()
	for {
		select {
		case <-r.Context().Done():
			return
		case <-keepAlive.C:
			fmt.Fprint(w, ": ping\n\n")
			flusher.Flush()
		case e, ok := <-events:
			if !ok {
				return
			}
			body, err := json.Marshal(e)
			if err != nil {
				s.log.Error("encode trade event", "err", err)
				continue
			}
			fmt.Fprintf(w, "id: %s\nevent: trade\ndata: %s\n\n", e.Key(), body)
			flusher.Flush()
		}
	}
}
