// YAML config loader with CUE validation integration
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// RadioConfig describes the shared medium.
type RadioConfig struct {
	MaxRangeM          float64       `yaml:"max_range_m"`
	TxPowerDBm         float64       `yaml:"tx_power_dbm"`
	FrequencyMHz       float64       `yaml:"frequency_mhz"`
	CollisionThreshold int           `yaml:"collision_threshold"`
	TxDelay            time.Duration `yaml:"tx_delay"`
}

// NodeConfig tunes every node.
type NodeConfig struct {
	DedupCapacity int `yaml:"dedup_capacity"`
}

// AgenticConfig tunes the agentic policy.
type AgenticConfig struct {
	CacheCapacity int `yaml:"cache_capacity"`
}

// TrafficConfig controls the message injector.
type TrafficConfig struct {
	Interval      time.Duration `yaml:"interval"`
	TTL           int           `yaml:"ttl"`
	CriticalRatio float64       `yaml:"critical_ratio"`
	Scenario      string        `yaml:"scenario"`
	ScenarioFile  string        `yaml:"scenario_file"`
}

// TelemetryConfig controls the state bus and the row writers.
type TelemetryConfig struct {
	ObserverQueue int           `yaml:"observer_queue"`
	RecentEvents  int           `yaml:"recent_events"`
	Tick          time.Duration `yaml:"tick"`
}

// AdminConfig configures the HTTP endpoint.
type AdminConfig struct {
	Addr string `yaml:"addr"`
}

// SimulationConfig is the root configuration of a mesh run.
type SimulationConfig struct {
	Policy    string          `yaml:"policy"`
	Nodes     int             `yaml:"nodes"`
	AreaM     float64         `yaml:"area_m"`
	Duration  time.Duration   `yaml:"duration"`
	Settle    time.Duration   `yaml:"settle"`
	Seed      int64           `yaml:"seed"`
	Radio     RadioConfig     `yaml:"radio"`
	Node      NodeConfig      `yaml:"node"`
	Agentic   AgenticConfig   `yaml:"agentic"`
	Traffic   TrafficConfig   `yaml:"traffic"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Admin     AdminConfig     `yaml:"admin"`
}

// Default returns the configuration used when no file is given.
func Default() *SimulationConfig {
	cfg := &SimulationConfig{}
	cfg.ApplyDefaults()
	return cfg
}

// ApplyDefaults fills every zero field with its default.
func (c *SimulationConfig) ApplyDefaults() {
	if c.Policy == "" {
		c.Policy = "flood"
	}
	if c.Nodes == 0 {
		c.Nodes = 15
	}
	if c.AreaM == 0 {
		c.AreaM = 1500
	}
	if c.Settle == 0 {
		c.Settle = 2 * time.Second
	}
	if c.Radio.MaxRangeM == 0 {
		c.Radio.MaxRangeM = 800
	}
	if c.Radio.TxPowerDBm == 0 {
		c.Radio.TxPowerDBm = 14
	}
	if c.Radio.FrequencyMHz == 0 {
		c.Radio.FrequencyMHz = 868
	}
	if c.Radio.CollisionThreshold == 0 {
		c.Radio.CollisionThreshold = 50
	}
	if c.Radio.TxDelay == 0 {
		c.Radio.TxDelay = 50 * time.Millisecond
	}
	if c.Node.DedupCapacity == 0 {
		c.Node.DedupCapacity = 4096
	}
	if c.Agentic.CacheCapacity == 0 {
		c.Agentic.CacheCapacity = 1024
	}
	if c.Traffic.Interval == 0 {
		c.Traffic.Interval = 200 * time.Millisecond
	}
	if c.Traffic.TTL == 0 {
		c.Traffic.TTL = 5
	}
	if c.Traffic.CriticalRatio == 0 {
		c.Traffic.CriticalRatio = 0.2
	}
	if c.Traffic.Scenario == "" {
		c.Traffic.Scenario = "tactical"
	}
	if c.Telemetry.ObserverQueue == 0 {
		c.Telemetry.ObserverQueue = 10
	}
	if c.Telemetry.RecentEvents == 0 {
		c.Telemetry.RecentEvents = 100
	}
	if c.Telemetry.Tick == 0 {
		c.Telemetry.Tick = time.Second
	}
}

// ApplyEnv applies environment overrides. MESH_POLICY selects the policy.
func (c *SimulationConfig) ApplyEnv() {
	if p := strings.TrimSpace(os.Getenv("MESH_POLICY")); p != "" {
		c.Policy = strings.ToLower(p)
	}
}

// Check rejects settings that would make the run meaningless.
func (c *SimulationConfig) Check() error {
	switch c.Policy {
	case "flood", "agentic":
	default:
		return fmt.Errorf("unknown policy %q", c.Policy)
	}
	if c.Nodes < 1 {
		return fmt.Errorf("nodes must be positive, got %d", c.Nodes)
	}
	if c.Radio.MaxRangeM <= 0 {
		return fmt.Errorf("radio.max_range_m must be positive")
	}
	if c.Traffic.CriticalRatio < 0 || c.Traffic.CriticalRatio > 1 {
		return fmt.Errorf("traffic.critical_ratio must be within [0,1]")
	}
	if c.Duration < 0 || c.Settle < 0 {
		return fmt.Errorf("duration and settle must not be negative")
	}
	return nil
}

// Load reads a YAML config, validates it against the CUE schema and applies
// defaults. An empty schemaPath uses the embedded schema.
func Load(configPath, schemaPath string) (*SimulationConfig, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	schema := embeddedSchema
	if schemaPath != "" {
		if schema, err = os.ReadFile(schemaPath); err != nil {
			return nil, fmt.Errorf("read schema: %w", err)
		}
	}
	return Parse(configPath, data, schema)
}

// Parse validates and decodes raw YAML.
func Parse(name string, data, schema []byte) (*SimulationConfig, error) {
	if schema == nil {
		schema = embeddedSchema
	}
	if err := ValidateWithCue(name, data, schema); err != nil {
		return nil, err
	}
	var cfg SimulationConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.ApplyDefaults()
	if err := cfg.Check(); err != nil {
		return nil, err
	}
	return &cfg, nil
}
