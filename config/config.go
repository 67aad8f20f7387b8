package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"

	"agentescrow/native/reputation"
)

// Config is the escrow service configuration, loaded from a TOML file.
type Config struct {
	RPCAddress    string  `toml:"RPCAddress"`
	DataDir       string  `toml:"DataDir"`
	Backend       string  `toml:"Backend"`
	NetworkName   string  `toml:"NetworkName"`
	Environment   string  `toml:"Environment"`
	RPCAuthToken  string  `toml:"RPCAuthToken"`
	RPCJWTSecret  string  `toml:"RPCJWTSecret"`
	RatePerSecond float64 `toml:"RatePerSecond"`
	RateBurst     int     `toml:"RateBurst"`

	// MinReputationVolume is the floor under which escrow activity leaves
	// reputation counters untouched. An explicit zero disables the floor;
	// leaving the key out of the file selects the ledger default.
	MinReputationVolume uint64 `toml:"MinReputationVolume"`

	minVolumeSet bool

	LogLevel      string `toml:"LogLevel"`
	LogFile       string `toml:"LogFile"`
	LogMaxSizeMB  int    `toml:"LogMaxSizeMB"`
	LogMaxBackups int    `toml:"LogMaxBackups"`
	LogMaxAgeDays int    `toml:"LogMaxAgeDays"`
}

const (
	// BackendLevelDB stores state in a goleveldb database under DataDir.
	BackendLevelDB = "leveldb"
	// BackendBolt stores state in a bbolt database under DataDir.
	BackendBolt = "bolt"
	// BackendMemory keeps state in memory; useful for development only.
	BackendMemory = "memory"
)

// Load reads the configuration at path, creating a default file when none
// exists.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}

	md, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, err
	}
	cfg.minVolumeSet = md.IsDefined("MinReputationVolume")
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if strings.TrimSpace(c.RPCAddress) == "" {
		c.RPCAddress = ":8545"
	}
	if strings.TrimSpace(c.DataDir) == "" {
		c.DataDir = "./escrow-data"
	}
	if strings.TrimSpace(c.Backend) == "" {
		c.Backend = BackendLevelDB
	}
	if strings.TrimSpace(c.NetworkName) == "" {
		c.NetworkName = "agentescrow-local"
	}
	if strings.TrimSpace(c.LogLevel) == "" {
		c.LogLevel = "info"
	}
	if !c.minVolumeSet && c.MinReputationVolume == 0 {
		c.MinReputationVolume = reputation.DefaultMinVolume
	}
}

// Validate rejects configurations the service cannot run with.
func (c *Config) Validate() error {
	switch strings.ToLower(strings.TrimSpace(c.Backend)) {
	case BackendLevelDB, BackendBolt, BackendMemory:
	default:
		return fmt.Errorf("config: unknown backend %q", c.Backend)
	}
	if c.RatePerSecond < 0 {
		return fmt.Errorf("config: RatePerSecond must not be negative")
	}
	if c.RateBurst < 0 {
		return fmt.Errorf("config: RateBurst must not be negative")
	}
	return nil
}

// createDefault creates and saves a default configuration file.
func createDefault(path string) (*Config, error) {
	cfg := &Config{}
	cfg.applyDefaults()
	if err := persist(path, cfg); err != nil {
		return nil, err
	}
	// The persisted file spells out the reputation floor.
	cfg.minVolumeSet = true
	return cfg, nil
}

func persist(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	return toml.NewEncoder(f).Encode(cfg)
}
