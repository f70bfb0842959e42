package agent

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/kabir325/fogpool/internal/pool"
)

func TestStatusServer(t *testing.T) {
	resetState()
	SetBuildInfo("1.2.3", "abc", "today")
	setIdentity("edge", pool.Capability{CPUCores: 4})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	addr, err := StartStatusServer(ctx, "127.0.0.1:0")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	resp, err := http.Get("http://" + addr + "/status")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()
	var st State
	if err := json.NewDecoder(resp.Body).Decode(&st); err != nil {
		t.Fatal(err)
	}
	if st.ClientName != "edge" || st.Version != "1.2.3" || st.State != "disconnected" || st.Capability.CPUCores != 4 {
		t.Fatalf("state %+v", st)
	}

	resp2, err := http.Get("http://" + addr + "/version")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer func() { _ = resp2.Body.Close() }()
	var vi VersionInfo
	if err := json.NewDecoder(resp2.Body).Decode(&vi); err != nil || vi.BuildSHA != "abc" {
		t.Fatalf("version %+v %v", vi, err)
	}
}

func TestStatusRouterHealth(t *testing.T) {
	resetState()
	h := StatusRouter()

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("disconnected agent: expected 503, got %d", rr.Code)
	}

	setRegistration("edge-1234", pool.TierSmall, "llama3.2:1b", 30)
	setConnectedToServer(true)
	setState("connected_idle")
	defer resetState()
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), "edge-1234") {
		t.Fatalf("connected agent: %d %s", rr.Code, rr.Body.String())
	}

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/status", nil))
	if rr.Code != http.StatusMethodNotAllowed {
		t.Fatalf("POST /status: expected 405, got %d", rr.Code)
	}
}
