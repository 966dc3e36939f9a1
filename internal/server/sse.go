package server

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/josephgoksu/specwing/internal/stream"
)

// handleEvents streams an execution's events as Server-Sent Events. A
// reconnecting client resumes after its Last-Event-ID (or ?after= cursor);
// events it missed are replayed before live delivery continues.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	token := r.Header.Get("Last-Event-ID")
	if token == "" {
		token = r.URL.Query().Get("after")
	}
	cursor, err := stream.DecodeCursor(token)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	sub, err := s.coord.Subscribe(r.PathValue("id"), cursor)
	if err != nil {
		s.writeError(w, err)
		return
	}
	defer sub.Close()

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case ev, open := <-sub.Events():
			if !open {
				return
			}
			if err := writeSSE(w, ev); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func writeSSE(w http.ResponseWriter, ev stream.Event) error {
	// Heartbeats are keep-alive only; a comment keeps the connection warm
	// without advancing the client's Last-Event-ID.
	if ev.Type == stream.EventHeartbeat {
		_, err := fmt.Fprint(w, ": hb\n\n")
		return err
	}

	payload := []byte("{}")
	if ev.Data != nil {
		var err error
		if payload, err = json.Marshal(ev.Data); err != nil {
			return err
		}
	}
	_, err := fmt.Fprintf(w, "id: %s\nevent: %s\ndata: %s\n\n",
		stream.Cursor(ev.ID).Encode(), ev.Type, payload)
	return err
}
