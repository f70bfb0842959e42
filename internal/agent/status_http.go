package agent

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
)

// StatusRouter serves the agent's local endpoints:
//
//	GET /status   full agent state
//	GET /version  build info
//	GET /healthz  200 while registered with the coordinator, 503 otherwise
func StatusRouter() http.Handler {
	r := chi.NewRouter()
	r.Get("/status", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, GetState())
	})
	r.Get("/version", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, GetVersionInfo())
	})
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		st := GetState()
		code := http.StatusOK
		if !st.ConnectedToServer {
			code = http.StatusServiceUnavailable
		}
		writeJSON(w, code, map[string]any{"state": st.State, "client_id": st.ClientID})
	})
	return r
}

// StartStatusServer serves StatusRouter on addr and returns the bound address.
func StartStatusServer(ctx context.Context, addr string) (string, error) {
	return serve(ctx, addr, StatusRouter(), "status")
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
