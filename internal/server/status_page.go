package server

import (
	_ "embed"
	"net/http"
)

//go:embed status.html
var statusHTML string

// StatusHandler serves the embedded status page. The page polls /api/status
// and /api/clients itself; when an api key is configured it is read from the
// page fragment (/state#key=...) and sent as X-API-Key.
func StatusHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Header().Set("Cache-Control", "no-store")
		_, _ = w.Write([]byte(statusHTML))
	}
}
