package app

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

const ssePing = 25 * time.Second

// handleEvents streams a "refresh" event whenever the caller's workspace
// reloads or its editor changes. Clients refetch the grid or editor on
// receipt.
func (s *HTTPServer) handleEvents(w http.ResponseWriter, r *http.Request, session Session) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "STREAMING_UNSUPPORTED", "Streaming unsupported", nil)
		return
	}
	ws, err := s.service.Workspace(r.Context(), session)
	if err != nil {
		writeMappedError(w, err)
		return
	}

	signals, cancel := ws.Watch()
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	fmt.Fprint(w, "event: ready\ndata: ok\n\n")
	flusher.Flush()

	ticker := time.NewTicker(ssePing)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case signal, ok := <-signals:
			if !ok {
				// Workspace stopped; the client reconnects and gets a new one.
				fmt.Fprint(w, "event: closed\ndata: stopped\n\n")
				flusher.Flush()
				return
			}
			payload, _ := json.Marshal(signal)
			fmt.Fprintf(w, "event: refresh\ndata: %s\n\n", payload)
			flusher.Flush()
		case <-ticker.C:
			fmt.Fprint(w, ": ping\n\n")
			flusher.Flush()
		}
	}
}
