package config

import (
	"flag"
	"os"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// ClientConfig holds configuration for the fogpool client agent.
type ClientConfig struct {
	ServerURL         string
	ClientKey         string
	ClientName        string
	OllamaURL         string
	HeartbeatInterval time.Duration
	RequestTimeout    time.Duration
	Reconnect         bool
	LogLevel          string
	ConfigFile        string
	StatusAddr        string
	MetricsAddr       string
	// PullModels lets the agent pull an assigned model Ollama does not have.
	PullModels bool

	// Capability overrides; zero values keep the probed value.
	CPUCores   int
	RAMGB      float64
	GPUVRAMGB  float64
	ForceGPU   bool
	DisableGPU bool
}

type clientFile struct {
	ServerURL         *string   `yaml:"server_url" toml:"server_url" json:"server_url"`
	ClientKey         *string   `yaml:"client_key" toml:"client_key" json:"client_key"`
	ClientName        *string   `yaml:"client_name" toml:"client_name" json:"client_name"`
	OllamaURL         *string   `yaml:"ollama_url" toml:"ollama_url" json:"ollama_url"`
	HeartbeatInterval *Duration `yaml:"heartbeat_interval" toml:"heartbeat_interval" json:"heartbeat_interval"`
	RequestTimeout    *Duration `yaml:"request_timeout" toml:"request_timeout" json:"request_timeout"`
	Reconnect         *bool     `yaml:"reconnect" toml:"reconnect" json:"reconnect"`
	LogLevel          *string   `yaml:"log_level" toml:"log_level" json:"log_level"`
	StatusAddr        *string   `yaml:"status_addr" toml:"status_addr" json:"status_addr"`
	MetricsAddr       *string   `yaml:"metrics_addr" toml:"metrics_addr" json:"metrics_addr"`
	PullModels        *bool     `yaml:"pull_models" toml:"pull_models" json:"pull_models"`
	CPUCores          *int      `yaml:"cpu_cores" toml:"cpu_cores" json:"cpu_cores"`
	RAMGB             *float64  `yaml:"ram_gb" toml:"ram_gb" json:"ram_gb"`
	GPUVRAMGB         *float64  `yaml:"gpu_vram_gb" toml:"gpu_vram_gb" json:"gpu_vram_gb"`
	HasGPU            *bool     `yaml:"has_gpu" toml:"has_gpu" json:"has_gpu"`
}

// SetDefaults initializes c with built-in defaults.
func (c *ClientConfig) SetDefaults() {
	if c.ServerURL == "" {
		c.ServerURL = "ws://localhost:8080/api/ws"
	}
	if c.OllamaURL == "" {
		c.OllamaURL = "http://127.0.0.1:11434"
	}
	if c.HeartbeatInterval == 0 {
		c.HeartbeatInterval = 10 * time.Second
	}
	if c.RequestTimeout == 0 {
		c.RequestTimeout = 5 * time.Minute
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.ClientName == "" {
		host, err := os.Hostname()
		if err != nil || host == "" {
			host = "client-" + uuid.NewString()[:8]
		}
		c.ClientName = host
	}
	if c.ConfigFile == "" {
		c.ConfigFile = DefaultConfigPath("client.yaml")
	}
}

// LoadFile overlays values present in the file onto c.
func (c *ClientConfig) LoadFile(path string) error {
	var f clientFile
	if err := decodeFile(path, &f); err != nil {
		return err
	}
	setString(&c.ServerURL, f.ServerURL)
	setString(&c.ClientKey, f.ClientKey)
	setString(&c.ClientName, f.ClientName)
	setString(&c.OllamaURL, f.OllamaURL)
	setDuration(&c.HeartbeatInterval, f.HeartbeatInterval)
	setDuration(&c.RequestTimeout, f.RequestTimeout)
	setBool(&c.Reconnect, f.Reconnect)
	setString(&c.LogLevel, f.LogLevel)
	setString(&c.StatusAddr, f.StatusAddr)
	setString(&c.MetricsAddr, f.MetricsAddr)
	setBool(&c.PullModels, f.PullModels)
	setInt(&c.CPUCores, f.CPUCores)
	if f.RAMGB != nil {
		c.RAMGB = *f.RAMGB
	}
	if f.GPUVRAMGB != nil {
		c.GPUVRAMGB = *f.GPUVRAMGB
	}
	if f.HasGPU != nil {
		c.ForceGPU, c.DisableGPU = *f.HasGPU, !*f.HasGPU
	}
	return nil
}

// ApplyEnv overlays environment variables onto the current config values.
func (c *ClientConfig) ApplyEnv() {
	if v := GetEnv("CONFIG_FILE", ""); v != "" {
		c.ConfigFile = v
	}
	if v := GetEnv("SERVER_URL", ""); v != "" {
		c.ServerURL = v
	}
	if v := GetEnv("CLIENT_KEY", ""); v != "" {
		c.ClientKey = v
	}
	if v := GetEnv("CLIENT_NAME", ""); v != "" {
		c.ClientName = v
	}
	if v := GetEnv("OLLAMA_URL", ""); v != "" {
		c.OllamaURL = v
	}
	envDuration("HEARTBEAT_INTERVAL", &c.HeartbeatInterval)
	envDuration("REQUEST_TIMEOUT", &c.RequestTimeout)
	if b, ok := parseBool(GetEnv("RECONNECT", "")); ok {
		c.Reconnect = b
	}
	if v := GetEnv("LOG_LEVEL", ""); v != "" {
		c.LogLevel = v
	}
	if v := GetEnv("STATUS_ADDR", ""); v != "" {
		c.StatusAddr = v
	}
	if v := GetEnv("METRICS_ADDR", ""); v != "" {
		c.MetricsAddr = v
	}
	if b, ok := parseBool(GetEnv("PULL_MODELS", "")); ok {
		c.PullModels = b
	}
	if v := GetEnv("CPU_CORES", ""); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.CPUCores = n
		}
	}
	if v := GetEnv("RAM_GB", ""); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			c.RAMGB = f
		}
	}
	if v := GetEnv("GPU_VRAM_GB", ""); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			c.GPUVRAMGB = f
		}
	}
	if b, ok := parseBool(GetEnv("HAS_GPU", "")); ok {
		c.ForceGPU, c.DisableGPU = b, !b
	}
}

// BindFlagsFromCurrent binds command line flags on fs using the current
// config values as defaults.
func (c *ClientConfig) BindFlagsFromCurrent(fs *flag.FlagSet) {
	fs.StringVar(&c.ConfigFile, "config", c.ConfigFile, "client config file path (.yaml, .toml or .json)")
	fs.StringVar(&c.ServerURL, "server-url", c.ServerURL, "coordinator websocket URL (e.g. ws://localhost:8080/api/ws)")
	fs.StringVar(&c.ClientKey, "client-key", c.ClientKey, "shared secret for registering with the coordinator")
	fs.StringVar(&c.ClientName, "client-name", c.ClientName, "host identity used to derive the client id")
	fs.StringVar(&c.OllamaURL, "ollama-url", c.OllamaURL, "local Ollama URL")
	fs.DurationVar(&c.HeartbeatInterval, "heartbeat-interval", c.HeartbeatInterval, "interval between heartbeats")
	fs.DurationVar(&c.RequestTimeout, "request-timeout", c.RequestTimeout, "upper bound for a single local generation")
	fs.BoolVar(&c.Reconnect, "reconnect", c.Reconnect, "reconnect to the coordinator on failure")
	fs.BoolVar(&c.Reconnect, "r", c.Reconnect, "short for --reconnect")
	fs.StringVar(&c.LogLevel, "log-level", c.LogLevel, "log verbosity (all, debug, info, warn, error, fatal, none)")
	fs.StringVar(&c.StatusAddr, "status-addr", c.StatusAddr, "address for the local /status endpoint; empty disables it")
	fs.StringVar(&c.MetricsAddr, "metrics-addr", c.MetricsAddr, "address for the client Prometheus endpoint; empty disables it")
	fs.BoolVar(&c.PullModels, "pull-models", c.PullModels, "pull the assigned model when Ollama does not have it")
	fs.IntVar(&c.CPUCores, "cpu-cores", c.CPUCores, "override the reported CPU core count")
	fs.Float64Var(&c.RAMGB, "ram-gb", c.RAMGB, "override the reported RAM in GB")
	fs.Float64Var(&c.GPUVRAMGB, "gpu-vram-gb", c.GPUVRAMGB, "override the reported GPU memory in GB")
	fs.BoolVar(&c.ForceGPU, "gpu", c.ForceGPU, "report a GPU even if none is detected")
	fs.BoolVar(&c.DisableGPU, "no-gpu", c.DisableGPU, "never report a GPU")
}
