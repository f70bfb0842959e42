package config

import (
	"flag"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Chat store backends.
const (
	ChatStoreMemory = "memory"
	ChatStoreFile   = "file"
	ChatStoreRedis  = "redis"
)

// ServerConfig holds configuration for the fogpool coordinator.
type ServerConfig struct {
	Port           int
	MetricsAddr    string
	LogLevel       string
	ConfigFile     string
	AllowedOrigins []string
	RedisAddr      string
	ClientKey      string
	APIKey         string

	ChatStore string
	ChatFile  string

	PerCallTimeout time.Duration
	GlobalTimeout  time.Duration
	DrainTimeout   time.Duration

	HeartbeatInterval time.Duration
	StaleAfter        time.Duration
	// PurgeAfter removes STALE clients silent for longer than this; 0 keeps
	// them until they reconnect or are deregistered.
	PurgeAfter       time.Duration
	ReassignInterval time.Duration
	ReassignOnChurn  bool

	AggregationPolicy string
	TierPoolOverride  map[string][]string

	RAGTopK             int
	ChatContextMessages int
	Console             bool
}

type serverFile struct {
	Port                *int                `yaml:"port" toml:"port" json:"port"`
	MetricsAddr         *string             `yaml:"metrics_addr" toml:"metrics_addr" json:"metrics_addr"`
	LogLevel            *string             `yaml:"log_level" toml:"log_level" json:"log_level"`
	AllowedOrigins      []string            `yaml:"allowed_origins" toml:"allowed_origins" json:"allowed_origins"`
	RedisAddr           *string             `yaml:"redis_addr" toml:"redis_addr" json:"redis_addr"`
	ClientKey           *string             `yaml:"client_key" toml:"client_key" json:"client_key"`
	APIKey              *string             `yaml:"api_key" toml:"api_key" json:"api_key"`
	ChatStore           *string             `yaml:"chat_store" toml:"chat_store" json:"chat_store"`
	ChatFile            *string             `yaml:"chat_file" toml:"chat_file" json:"chat_file"`
	PerCallTimeout      *Duration           `yaml:"per_call_timeout" toml:"per_call_timeout" json:"per_call_timeout"`
	GlobalTimeout       *Duration           `yaml:"global_timeout" toml:"global_timeout" json:"global_timeout"`
	DrainTimeout        *Duration           `yaml:"drain_timeout" toml:"drain_timeout" json:"drain_timeout"`
	HeartbeatInterval   *Duration           `yaml:"heartbeat_interval" toml:"heartbeat_interval" json:"heartbeat_interval"`
	StaleAfter          *Duration           `yaml:"stale_after" toml:"stale_after" json:"stale_after"`
	PurgeAfter          *Duration           `yaml:"purge_after" toml:"purge_after" json:"purge_after"`
	ReassignInterval    *Duration           `yaml:"reassign_interval" toml:"reassign_interval" json:"reassign_interval"`
	ReassignOnChurn     *bool               `yaml:"reassign_on_churn" toml:"reassign_on_churn" json:"reassign_on_churn"`
	AggregationPolicy   *string             `yaml:"aggregation_policy" toml:"aggregation_policy" json:"aggregation_policy"`
	TierPoolOverride    map[string][]string `yaml:"tier_pool_override" toml:"tier_pool_override" json:"tier_pool_override"`
	RAGTopK             *int                `yaml:"rag_top_k" toml:"rag_top_k" json:"rag_top_k"`
	ChatContextMessages *int                `yaml:"chat_context_messages" toml:"chat_context_messages" json:"chat_context_messages"`
	Console             *bool               `yaml:"console" toml:"console" json:"console"`
}

// SetDefaults initializes c with built-in defaults.
func (c *ServerConfig) SetDefaults() {
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.Port == 0 {
		c.Port = 8080
	}
	if c.MetricsAddr == "" {
		c.MetricsAddr = fmt.Sprintf(":%d", c.Port)
	}
	if c.ConfigFile == "" {
		c.ConfigFile = DefaultConfigPath("server.yaml")
	}
	if c.ChatStore == "" {
		c.ChatStore = ChatStoreMemory
	}
	if c.ChatFile == "" {
		c.ChatFile = "chat_sessions.json"
	}
	if c.PerCallTimeout == 0 {
		c.PerCallTimeout = 60 * time.Second
	}
	if c.GlobalTimeout == 0 {
		c.GlobalTimeout = 90 * time.Second
	}
	if c.DrainTimeout == 0 {
		c.DrainTimeout = 30 * time.Second
	}
	if c.HeartbeatInterval == 0 {
		c.HeartbeatInterval = 10 * time.Second
	}
	if c.StaleAfter == 0 {
		c.StaleAfter = 30 * time.Second
	}
	if c.AggregationPolicy == "" {
		c.AggregationPolicy = "concatenate"
	}
	if c.RAGTopK == 0 {
		c.RAGTopK = 3
	}
	if c.ChatContextMessages == 0 {
		c.ChatContextMessages = 5
	}
}

// LoadFile overlays values present in the file onto c.
func (c *ServerConfig) LoadFile(path string) error {
	var f serverFile
	if err := decodeFile(path, &f); err != nil {
		return err
	}
	setInt(&c.Port, f.Port)
	setString(&c.MetricsAddr, f.MetricsAddr)
	setString(&c.LogLevel, f.LogLevel)
	if f.AllowedOrigins != nil {
		c.AllowedOrigins = f.AllowedOrigins
	}
	setString(&c.RedisAddr, f.RedisAddr)
	setString(&c.ClientKey, f.ClientKey)
	setString(&c.APIKey, f.APIKey)
	setString(&c.ChatStore, f.ChatStore)
	setString(&c.ChatFile, f.ChatFile)
	setDuration(&c.PerCallTimeout, f.PerCallTimeout)
	setDuration(&c.GlobalTimeout, f.GlobalTimeout)
	setDuration(&c.DrainTimeout, f.DrainTimeout)
	setDuration(&c.HeartbeatInterval, f.HeartbeatInterval)
	setDuration(&c.StaleAfter, f.StaleAfter)
	setDuration(&c.PurgeAfter, f.PurgeAfter)
	setDuration(&c.ReassignInterval, f.ReassignInterval)
	setBool(&c.ReassignOnChurn, f.ReassignOnChurn)
	setString(&c.AggregationPolicy, f.AggregationPolicy)
	if f.TierPoolOverride != nil {
		c.TierPoolOverride = f.TierPoolOverride
	}
	setInt(&c.RAGTopK, f.RAGTopK)
	setInt(&c.ChatContextMessages, f.ChatContextMessages)
	setBool(&c.Console, f.Console)
	return nil
}

// ApplyEnv overlays environment variables onto the current config values.
func (c *ServerConfig) ApplyEnv() {
	if v := GetEnv("CONFIG_FILE", ""); v != "" {
		c.ConfigFile = v
	}
	if v := GetEnv("LOG_LEVEL", ""); v != "" {
		c.LogLevel = v
	}
	if v := GetEnv("PORT", ""); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Port = n
		}
	}
	if v := GetEnv("METRICS_PORT", ""); v != "" {
		if strings.Contains(v, ":") {
			c.MetricsAddr = v
		} else {
			c.MetricsAddr = ":" + v
		}
	}
	if v := GetEnv("ALLOWED_ORIGINS", ""); v != "" {
		c.AllowedOrigins = splitComma(v)
	}
	if v := GetEnv("REDIS_ADDR", ""); v != "" {
		c.RedisAddr = v
	}
	if v := GetEnv("CLIENT_KEY", ""); v != "" {
		c.ClientKey = v
	}
	if v := GetEnv("API_KEY", ""); v != "" {
		c.APIKey = v
	}
	if v := GetEnv("CHAT_STORE", ""); v != "" {
		c.ChatStore = v
	}
	if v := GetEnv("CHAT_FILE", ""); v != "" {
		c.ChatFile = v
	}
	envDuration("PER_CALL_TIMEOUT", &c.PerCallTimeout)
	envDuration("GLOBAL_TIMEOUT", &c.GlobalTimeout)
	envDuration("DRAIN_TIMEOUT", &c.DrainTimeout)
	envDuration("HEARTBEAT_INTERVAL", &c.HeartbeatInterval)
	envDuration("STALE_AFTER", &c.StaleAfter)
	envDuration("PURGE_AFTER", &c.PurgeAfter)
	envDuration("REASSIGN_INTERVAL", &c.ReassignInterval)
	if b, ok := parseBool(GetEnv("REASSIGN_ON_CHURN", "")); ok {
		c.ReassignOnChurn = b
	}
	if v := GetEnv("AGGREGATION_POLICY", ""); v != "" {
		c.AggregationPolicy = v
	}
	if v := GetEnv("RAG_TOP_K", ""); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.RAGTopK = n
		}
	}
	if v := GetEnv("CHAT_CONTEXT_MESSAGES", ""); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.ChatContextMessages = n
		}
	}
	if b, ok := parseBool(GetEnv("CONSOLE", "")); ok {
		c.Console = b
	}
}

func envDuration(key string, dst *time.Duration) {
	if v := GetEnv(key, ""); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}

// BindFlagsFromCurrent binds command line flags on fs using the current
// config values as defaults.
func (c *ServerConfig) BindFlagsFromCurrent(fs *flag.FlagSet) {
	fs.StringVar(&c.ConfigFile, "config", c.ConfigFile, "server config file path (.yaml, .toml or .json)")
	fs.StringVar(&c.LogLevel, "log-level", c.LogLevel, "log verbosity (all, debug, info, warn, error, fatal, none)")
	fs.IntVar(&c.Port, "port", c.Port, "HTTP listen port for the API and client websocket")
	fs.StringVar(&c.MetricsAddr, "metrics-port", c.MetricsAddr, "Prometheus metrics listen address or port; defaults to the value of --port")
	fs.Func("allowed-origins", "comma separated list of allowed CORS origins", func(v string) error {
		c.AllowedOrigins = splitComma(v)
		return nil
	})
	fs.StringVar(&c.RedisAddr, "redis-addr", c.RedisAddr, "redis connection URL for server state and chat sessions")
	fs.StringVar(&c.ClientKey, "client-key", c.ClientKey, "shared key clients must present when registering")
	fs.StringVar(&c.APIKey, "api-key", c.APIKey, "bearer key required on /api routes; empty disables the check")
	fs.StringVar(&c.ChatStore, "chat-store", c.ChatStore, "chat session backend (memory, file, redis)")
	fs.StringVar(&c.ChatFile, "chat-file", c.ChatFile, "chat session file for the file backend")
	fs.DurationVar(&c.PerCallTimeout, "per-call-timeout", c.PerCallTimeout, "deadline for a single client inference call")
	fs.DurationVar(&c.GlobalTimeout, "global-timeout", c.GlobalTimeout, "deadline for a whole fan-out query")
	fs.DurationVar(&c.DrainTimeout, "drain-timeout", c.DrainTimeout, "time to wait for in-flight queries on shutdown")
	fs.DurationVar(&c.HeartbeatInterval, "heartbeat-interval", c.HeartbeatInterval, "housekeeping interval and expected client heartbeat period")
	fs.DurationVar(&c.StaleAfter, "stale-after", c.StaleAfter, "silence after which an active client becomes stale")
	fs.DurationVar(&c.PurgeAfter, "purge-after", c.PurgeAfter, "silence after which a stale client is removed (0 to keep)")
	fs.DurationVar(&c.ReassignInterval, "reassign-interval", c.ReassignInterval, "periodic reassignment interval (0 to disable)")
	fs.BoolVar(&c.ReassignOnChurn, "reassign-on-churn", c.ReassignOnChurn, "run a reassignment pass after clients join or go stale")
	fs.StringVar(&c.AggregationPolicy, "aggregation-policy", c.AggregationPolicy, "answer combination policy (concatenate, first-success, majority-vote, best-score)")
	fs.IntVar(&c.RAGTopK, "rag-top-k", c.RAGTopK, "documents injected when a query asks for retrieval")
	fs.IntVar(&c.ChatContextMessages, "chat-context-messages", c.ChatContextMessages, "previous chat turns injected into a query")
	fs.BoolVar(&c.Console, "console", c.Console, "start the interactive operator console on stdin")
}

// Validate reports configuration that cannot start a server.
func (c *ServerConfig) Validate() error {
	switch c.ChatStore {
	case ChatStoreMemory, ChatStoreFile:
	case ChatStoreRedis:
		if c.RedisAddr == "" {
			return fmt.Errorf("chat_store redis requires redis_addr")
		}
	default:
		return fmt.Errorf("unknown chat_store %q", c.ChatStore)
	}
	if c.PerCallTimeout <= 0 || c.GlobalTimeout <= 0 {
		return fmt.Errorf("timeouts must be positive")
	}
	if c.StaleAfter <= 0 || c.HeartbeatInterval <= 0 {
		return fmt.Errorf("heartbeat_interval and stale_after must be positive")
	}
	return nil
}
