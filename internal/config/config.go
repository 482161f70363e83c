// Package config loads the node's YAML configuration: its cluster identity,
// listen addresses, connection-pool sizing, static peer list, and the
// control-plane admin address, with "${VAR}" environment substitution and
// optional fsnotify-driven hot reload.
package config

import (
	"fmt"
	"log"
	"os"
	"regexp"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration for a zenith node.
type Config struct {
	Node   NodeConfig   `yaml:"node"`
	Listen ListenConfig `yaml:"listen"`
	Admin  AdminConfig  `yaml:"admin"`
	Pool   PoolConfig   `yaml:"pool"`
	Peers  []string     `yaml:"peers"`
	Auth   AuthConfig   `yaml:"auth"`
	Health HealthConfig `yaml:"health"`
}

// NodeConfig is the identity this node asserts during every login
// handshake, data-plane or control-plane.
type NodeConfig struct {
	ID           string   `yaml:"id"`
	Name         string   `yaml:"name"`
	IsReplica    bool     `yaml:"is_replica"`
	Tags         []string `yaml:"tags"`
	ClusterToken string   `yaml:"cluster_token"`
}

// ListenConfig is where this node accepts inbound connections.
type ListenConfig struct {
	DataPlaneAddr string `yaml:"data_plane_addr"`
	APIAddr       string `yaml:"api_addr"`
}

// AdminConfig points at the management node's control-plane endpoint.
type AdminConfig struct {
	Addr string `yaml:"addr"`
}

// PoolConfig sizes and times every outbound connection pool this node
// maintains to its peers.
type PoolConfig struct {
	MinConnections    int           `yaml:"min_connections"`
	MaxConnections    int           `yaml:"max_connections"`
	DialTimeout       time.Duration `yaml:"dial_timeout"`
	SendTimeout       time.Duration `yaml:"send_timeout"`
	ReconnectInterval time.Duration `yaml:"reconnect_interval"`
}

// AuthConfig configures login-handshake verification.
type AuthConfig struct {
	SkewWindow time.Duration `yaml:"skew_window"`
}

// HealthConfig configures the peer reachability prober.
type HealthConfig struct {
	Interval          time.Duration `yaml:"interval"`
	FailureThreshold  int           `yaml:"failure_threshold"`
	ConnectionTimeout time.Duration `yaml:"connection_timeout"`
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// substituteEnvVars replaces ${VAR_NAME} patterns with environment variable
// values, leaving unmatched references untouched.
func substituteEnvVars(data []byte) []byte {
	return envVarPattern.ReplaceAllFunc(data, func(match []byte) []byte {
		varName := envVarPattern.FindSubmatch(match)[1]
		if val, ok := os.LookupEnv(string(varName)); ok {
			return []byte(val)
		}
		return match
	})
}

// Load reads and parses a YAML config file with env var substitution.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	data = substituteEnvVars(data)

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyDefaults(cfg)

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Listen.DataPlaneAddr == "" {
		cfg.Listen.DataPlaneAddr = "0.0.0.0:7000"
	}
	if cfg.Listen.APIAddr == "" {
		cfg.Listen.APIAddr = "127.0.0.1:8080"
	}
	if cfg.Pool.MinConnections == 0 {
		cfg.Pool.MinConnections = 2
	}
	if cfg.Pool.MaxConnections == 0 {
		cfg.Pool.MaxConnections = 10
	}
	if cfg.Pool.DialTimeout == 0 {
		cfg.Pool.DialTimeout = 5 * time.Second
	}
	if cfg.Pool.SendTimeout == 0 {
		cfg.Pool.SendTimeout = 10 * time.Second
	}
	if cfg.Pool.ReconnectInterval == 0 {
		cfg.Pool.ReconnectInterval = 3 * time.Second
	}
	if cfg.Auth.SkewWindow == 0 {
		cfg.Auth.SkewWindow = 5 * time.Minute
	}
	if cfg.Health.Interval == 0 {
		cfg.Health.Interval = 10 * time.Second
	}
	if cfg.Health.FailureThreshold == 0 {
		cfg.Health.FailureThreshold = 3
	}
	if cfg.Health.ConnectionTimeout == 0 {
		cfg.Health.ConnectionTimeout = 2 * time.Second
	}
	// Guardrail from the design notes: a misconfigured max below min must
	// never silently cap the pool under its own floor.
	if cfg.Pool.MinConnections < 1 {
		cfg.Pool.MinConnections = 1
	}
	if cfg.Pool.MaxConnections < cfg.Pool.MinConnections {
		cfg.Pool.MaxConnections = cfg.Pool.MinConnections
	}
}

func validate(cfg *Config) error {
	if cfg.Node.ID == "" {
		return fmt.Errorf("node.id is required")
	}
	if cfg.Node.ClusterToken == "" {
		return fmt.Errorf("node.cluster_token is required")
	}
	if cfg.Admin.Addr == "" {
		return fmt.Errorf("admin.addr is required")
	}
	for i, peer := range cfg.Peers {
		if peer == "" {
			return fmt.Errorf("peers[%d]: empty peer address", i)
		}
	}
	return nil
}

// Watcher watches a config file for changes and calls the callback with the
// new config after each debounced write.
type Watcher struct {
	path     string
	callback func(*Config)
	watcher  *fsnotify.Watcher
	mu       sync.Mutex
	stopCh   chan struct{}
}

// NewWatcher creates a new config file watcher.
func NewWatcher(path string, callback func(*Config)) (*Watcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating file watcher: %w", err)
	}

	if err := w.Add(path); err != nil {
		w.Close()
		return nil, fmt.Errorf("watching config file: %w", err)
	}

	cw := &Watcher{
		path:     path,
		callback: callback,
		watcher:  w,
		stopCh:   make(chan struct{}),
	}

	go cw.run()
	return cw, nil
}

func (cw *Watcher) run() {
	var debounce *time.Timer
	for {
		select {
		case event, ok := <-cw.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				if debounce != nil {
					debounce.Stop()
				}
				debounce = time.AfterFunc(500*time.Millisecond, func() {
					cw.reload()
				})
			}
		case err, ok := <-cw.watcher.Errors:
			if !ok {
				return
			}
			log.Printf("[config] watcher error: %v", err)
		case <-cw.stopCh:
			return
		}
	}
}

func (cw *Watcher) reload() {
	cw.mu.Lock()
	defer cw.mu.Unlock()

	cfg, err := Load(cw.path)
	if err != nil {
		log.Printf("[config] hot-reload failed: %v", err)
		return
	}

	log.Printf("[config] configuration reloaded from %s", cw.path)
	cw.callback(cfg)
}

// Stop stops the config watcher.
func (cw *Watcher) Stop() error {
	close(cw.stopCh)
	return cw.watcher.Close()
}
