package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/kabir325/fogpool/internal/engine"
	"github.com/kabir325/fogpool/internal/logx"
)

// StatusStreamHandler streams pool status snapshots as Server-Sent Events.
type StatusStreamHandler struct {
	Engine   *engine.Engine
	Interval time.Duration
}

func (h *StatusStreamHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	every := h.Interval
	if every <= 0 {
		every = 2 * time.Second
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		b, _ := json.Marshal(h.Engine.GetStats(r.Context()))
		if _, err := w.Write([]byte("data: " + string(b) + "\n\n")); err != nil {
			logx.Log.Debug().Err(err).Msg("status stream closed")
			return
		}
		flusher.Flush()
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
		}
	}
}
