// Package config loads fluxdag's node configuration: a YAML file plus
// environment-variable overrides, the same layering the teacher repo uses
// for its own ServerConfig/NetworkConfig (see
// github.com/ocx/backend/internal/config), trimmed to the sections a
// workflow node actually needs (server, Postgres, Redis, workflow
// execution, and peer networking).
package config

import (
	"log/slog"
	"os"
	"strconv"
	"sync"
	"time"

	"gopkg.in/yaml.v2"
)

// Config is the root configuration document, one section per subsystem.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Redis    RedisConfig    `yaml:"redis"`
	Workflow WorkflowConfig `yaml:"workflow"`
	P2P      P2PConfig      `yaml:"p2p"`
}

// ServerConfig configures the node's own listeners, not a client-facing
// JSON-RPC/WebSocket proxy (that stays out of scope per spec.md §1).
type ServerConfig struct {
	Env             string `yaml:"env"`
	Interface       string `yaml:"interface"`
	ShutdownTimeoutSec int `yaml:"shutdown_timeout_sec"`
}

// DatabaseConfig points at the Postgres instance backing the receipt
// store (spec.md §6 "Persisted state").
type DatabaseConfig struct {
	DSN string `yaml:"dsn"`
}

// RedisConfig points at the Redis instance standing in for the DHT table
// and the gossip bus (SPEC_FULL.md §2 DOMAIN STACK).
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// WorkflowConfig tunes the scheduler/worker's external collaborators.
type WorkflowConfig struct {
	ModuleGateway     string `yaml:"module_gateway"` // IPFS HTTP gateway base URL
	FetchRetries      int    `yaml:"fetch_retries"`
	FetchInitialDelayMs int  `yaml:"fetch_initial_delay_ms"`
	FetchMaxDelayMs   int    `yaml:"fetch_max_delay_ms"`
	PeerLookupTimeoutMs int  `yaml:"peer_lookup_timeout_ms"`
	WorkerTTLSec      int    `yaml:"worker_ttl_sec"`
	GCIntervalSec     int    `yaml:"gc_interval_sec"`

	// HealthCheckModule, when set, names a Wasm module resource the node
	// invokes against itself at startup (via a closed InstructionTemplate)
	// to confirm the fetch/invoke/receipt path is wired before accepting
	// real workflows. Empty disables the check.
	HealthCheckModule  string `yaml:"health_check_module"`
	HealthCheckAbility string `yaml:"health_check_ability"`
}

// P2PConfig configures the network event loop (spec.md §4.7/§9): peer
// identity, the rendezvous namespace (flagged in spec.md §9 as something
// that "must be made configurable"), quorum policy, and timers.
type P2PConfig struct {
	PeerID     string     `yaml:"peer_id"`
	ListenAddr string     `yaml:"listen_addr"`
	Namespace  string     `yaml:"namespace"`

	KnownPeers []PeerEntry `yaml:"known_peers"`

	RendezvousAddr      string `yaml:"rendezvous_addr"`
	RunRendezvousServer bool   `yaml:"run_rendezvous_server"`

	MaxConnectedPeers int `yaml:"max_connected_peers"`

	ReceiptQuorum  int `yaml:"receipt_quorum"`
	WorkflowQuorum int `yaml:"workflow_quorum"`

	DHTWaitTimeoutMs    int `yaml:"dht_wait_timeout_ms"`
	DialIntervalSec     int `yaml:"dial_interval_sec"`
	DiscoveryIntervalSec int `yaml:"discovery_interval_sec"`
	RegistrationTTLSec   int `yaml:"registration_ttl_sec"`

	LanDiscoveryEnabled bool   `yaml:"lan_discovery_enabled"`
	LanBroadcastAddr    string `yaml:"lan_broadcast_addr"`
	LanListenPort       int    `yaml:"lan_listen_port"`

	CommandBuffer     int `yaml:"command_buffer"`
	ShutdownTimeoutSec int `yaml:"shutdown_timeout_sec"`
}

// PeerEntry names one peer dialed at startup (spec.md §4.7 "trusted
// configured peers").
type PeerEntry struct {
	ID   string `yaml:"id"`
	Addr string `yaml:"addr"`
}

var (
	instance *Config
	once     sync.Once
)

// Get returns the process-wide config singleton, loaded (and defaulted)
// exactly once.
func Get() *Config {
	once.Do(func() {
		cfg, err := LoadConfig(getEnv("FLUXDAG_CONFIG_PATH", "config.yaml"))
		if err != nil {
			slog.Warn("config: failed to load config file, using defaults", "error", err)
		}
		if cfg == nil {
			cfg = &Config{}
		}
		cfg.applyEnvOverrides()
		instance = cfg
	})
	return instance
}

// LoadConfig reads and decodes a YAML config document from path.
func LoadConfig(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var cfg Config
	if err := yaml.NewDecoder(f).Decode(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyEnvOverrides() {
	c.Server.Env = getEnv("FLUXDAG_ENV", c.Server.Env)
	c.Server.Interface = getEnv("FLUXDAG_INTERFACE", c.Server.Interface)

	c.Database.DSN = getEnv("FLUXDAG_POSTGRES_DSN", c.Database.DSN)

	c.Redis.Addr = getEnv("FLUXDAG_REDIS_ADDR", c.Redis.Addr)
	c.Redis.Password = getEnv("FLUXDAG_REDIS_PASSWORD", c.Redis.Password)
	if v := getEnvInt("FLUXDAG_REDIS_DB", -1); v >= 0 {
		c.Redis.DB = v
	}

	c.Workflow.ModuleGateway = getEnv("FLUXDAG_MODULE_GATEWAY", c.Workflow.ModuleGateway)
	if v := getEnvInt("FLUXDAG_FETCH_RETRIES", 0); v > 0 {
		c.Workflow.FetchRetries = v
	}
	c.Workflow.HealthCheckModule = getEnv("FLUXDAG_HEALTH_CHECK_MODULE", c.Workflow.HealthCheckModule)
	c.Workflow.HealthCheckAbility = getEnv("FLUXDAG_HEALTH_CHECK_ABILITY", c.Workflow.HealthCheckAbility)

	c.P2P.PeerID = getEnv("FLUXDAG_PEER_ID", c.P2P.PeerID)
	c.P2P.ListenAddr = getEnv("FLUXDAG_LISTEN_ADDR", c.P2P.ListenAddr)
	c.P2P.Namespace = getEnv("FLUXDAG_NAMESPACE", c.P2P.Namespace)
	c.P2P.RendezvousAddr = getEnv("FLUXDAG_RENDEZVOUS_ADDR", c.P2P.RendezvousAddr)
	c.P2P.RunRendezvousServer = getEnvBool("FLUXDAG_RUN_RENDEZVOUS_SERVER", c.P2P.RunRendezvousServer)
	if v := getEnvInt("FLUXDAG_RECEIPT_QUORUM", 0); v > 0 {
		c.P2P.ReceiptQuorum = v
	}
	if v := getEnvInt("FLUXDAG_WORKFLOW_QUORUM", 0); v > 0 {
		c.P2P.WorkflowQuorum = v
	}
	c.P2P.LanDiscoveryEnabled = getEnvBool("FLUXDAG_LAN_DISCOVERY", c.P2P.LanDiscoveryEnabled)

	c.applyDefaults()
}

func (c *Config) applyDefaults() {
	if c.Server.Env == "" {
		c.Server.Env = "development"
	}
	if c.Server.ShutdownTimeoutSec == 0 {
		c.Server.ShutdownTimeoutSec = 30
	}
	if c.Redis.Addr == "" {
		c.Redis.Addr = "localhost:6379"
	}
	if c.Workflow.ModuleGateway == "" {
		c.Workflow.ModuleGateway = "https://ipfs.io/ipfs/"
	}
	if c.Workflow.FetchRetries == 0 {
		c.Workflow.FetchRetries = 3
	}
	if c.Workflow.FetchInitialDelayMs == 0 {
		c.Workflow.FetchInitialDelayMs = 200
	}
	if c.Workflow.FetchMaxDelayMs == 0 {
		c.Workflow.FetchMaxDelayMs = 5000
	}
	if c.Workflow.WorkerTTLSec == 0 {
		c.Workflow.WorkerTTLSec = 300
	}
	if c.Workflow.GCIntervalSec == 0 {
		c.Workflow.GCIntervalSec = 30
	}
	if c.Workflow.HealthCheckModule != "" && c.Workflow.HealthCheckAbility == "" {
		c.Workflow.HealthCheckAbility = "wasm/run"
	}
	if c.P2P.Namespace == "" {
		c.P2P.Namespace = "fluxdag"
	}
	if c.P2P.MaxConnectedPeers == 0 {
		c.P2P.MaxConnectedPeers = 32
	}
	if c.P2P.ReceiptQuorum == 0 {
		c.P2P.ReceiptQuorum = 1
	}
	if c.P2P.WorkflowQuorum == 0 {
		c.P2P.WorkflowQuorum = 1
	}
	if c.P2P.DHTWaitTimeoutMs == 0 {
		c.P2P.DHTWaitTimeoutMs = 2000
	}
	if c.P2P.DialIntervalSec == 0 {
		c.P2P.DialIntervalSec = 30
	}
	if c.P2P.DiscoveryIntervalSec == 0 {
		c.P2P.DiscoveryIntervalSec = 60
	}
	if c.P2P.RegistrationTTLSec == 0 {
		c.P2P.RegistrationTTLSec = 300
	}
	if c.P2P.CommandBuffer == 0 {
		c.P2P.CommandBuffer = 256
	}
	if c.P2P.ShutdownTimeoutSec == 0 {
		c.P2P.ShutdownTimeoutSec = 10
	}
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		return val == "true" || val == "1"
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

// IsProduction reports whether the node is configured for production.
func (c *Config) IsProduction() bool { return c.Server.Env == "production" }

// ShutdownTimeout returns the server's shutdown deadline as a duration.
func (c *Config) ShutdownTimeout() time.Duration {
	return time.Duration(c.Server.ShutdownTimeoutSec) * time.Second
}
