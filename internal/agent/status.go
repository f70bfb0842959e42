package agent

import (
	"sync"
	"time"

	"github.com/kabir325/fogpool/internal/pool"
)

// State is the agent's self-reported status, served on /status.
type State struct {
	State             string          `json:"state"`
	ConnectedToServer bool            `json:"connected_to_server"`
	ConnectedToOllama bool            `json:"connected_to_ollama"`
	CurrentJobs       int             `json:"current_jobs"`
	ClientID          string          `json:"client_id,omitempty"`
	ClientName        string          `json:"client_name"`
	Capability        pool.Capability `json:"capability"`
	Tier              pool.Tier       `json:"tier,omitempty"`
	AssignedModel     string          `json:"assigned_model,omitempty"`
	Score             float64         `json:"score"`
	LastError         string          `json:"last_error"`
	LastHeartbeat     time.Time       `json:"last_heartbeat"`
	Version           string          `json:"version"`
}

type VersionInfo struct {
	Version   string `json:"version"`
	BuildSHA  string `json:"build_sha"`
	BuildDate string `json:"build_date"`
}

var (
	stateMu   sync.RWMutex
	stateData = State{State: "disconnected"}
	buildInfo = VersionInfo{Version: "dev", BuildSHA: "unknown", BuildDate: "unknown"}
)

func resetState() {
	stateMu.Lock()
	defer stateMu.Unlock()
	stateData = State{State: "disconnected"}
}

func SetBuildInfo(v, sha, date string) {
	buildInfo = VersionInfo{Version: v, BuildSHA: sha, BuildDate: date}
	stateMu.Lock()
	stateData.Version = v
	stateMu.Unlock()
}

func GetVersionInfo() VersionInfo {
	return buildInfo
}

func setIdentity(name string, c pool.Capability) {
	stateMu.Lock()
	stateData.ClientName = name
	stateData.Capability = c
	stateMu.Unlock()
}

func setState(s string) {
	stateMu.Lock()
	stateData.State = s
	stateMu.Unlock()
}

func setConnectedToServer(v bool) {
	stateMu.Lock()
	stateData.ConnectedToServer = v
	if !v {
		stateData.State = "disconnected"
	}
	stateMu.Unlock()
	connectedToServerGauge.Set(boolGauge(v))
}

func setConnectedToOllama(v bool) {
	stateMu.Lock()
	stateData.ConnectedToOllama = v
	stateMu.Unlock()
	connectedToOllamaGauge.Set(boolGauge(v))
}

func setRegistration(id string, tier pool.Tier, model string, score float64) {
	stateMu.Lock()
	stateData.ClientID = id
	stateData.Tier = tier
	stateData.AssignedModel = model
	stateData.Score = score
	stateMu.Unlock()
}

func setLastError(err string) {
	stateMu.Lock()
	stateData.LastError = err
	stateMu.Unlock()
}

func setLastHeartbeat(t time.Time) {
	stateMu.Lock()
	stateData.LastHeartbeat = t
	stateMu.Unlock()
}

func incJobs() {
	stateMu.Lock()
	stateData.CurrentJobs++
	if stateData.ConnectedToServer {
		stateData.State = "connected_busy"
	}
	cur := stateData.CurrentJobs
	stateMu.Unlock()
	currentJobsGauge.Set(float64(cur))
}

func decJobs() {
	stateMu.Lock()
	if stateData.CurrentJobs > 0 {
		stateData.CurrentJobs--
	}
	cur := stateData.CurrentJobs
	if cur == 0 && stateData.ConnectedToServer {
		stateData.State = "connected_idle"
	}
	stateMu.Unlock()
	currentJobsGauge.Set(float64(cur))
}

func GetState() State {
	stateMu.RLock()
	defer stateMu.RUnlock()
	return stateData
}

func boolGauge(v bool) float64 {
	if v {
		return 1
	}
	return 0
}
