package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"evovault/core/identity"
	"evovault/core/withdrawals"
)

// Duration wraps time.Duration so it can be written as "30s" in either YAML
// or TOML.
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses human readable duration strings.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	if value == nil {
		return nil
	}
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("duration must be string")
	}
	return d.UnmarshalText([]byte(value.Value))
}

// UnmarshalText implements encoding.TextUnmarshaler, which the TOML decoder uses.
func (d *Duration) UnmarshalText(text []byte) error {
	raw := strings.TrimSpace(string(text))
	if raw == "" {
		d.Duration = 0
		return nil
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", raw, err)
	}
	d.Duration = parsed
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Config is the runtime configuration shared by vaultd and vaultctl.
type Config struct {
	Network         string   `toml:"network" yaml:"network"`
	DataDir         string   `toml:"data_dir" yaml:"data_dir"`
	Database        string   `toml:"database" yaml:"database"`
	ListenAddress   string   `toml:"listen" yaml:"listen"`
	Env             string   `toml:"env" yaml:"env"`
	LenientUpdates  bool     `toml:"lenient_updates" yaml:"lenient_updates"`
	PageSize        int      `toml:"page_size" yaml:"page_size"`
	DefaultStatuses []string `toml:"default_statuses" yaml:"default_statuses"`
	ShutdownTimeout Duration `toml:"shutdown_timeout" yaml:"shutdown_timeout"`
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

// Load reads the configuration at path. Files ending in .yaml or .yml are
// decoded as YAML, everything else as TOML. A missing file is created with
// the defaults.
func Load(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	} else if err != nil {
		return nil, fmt.Errorf("stat config: %w", err)
	}

	cfg := &Config{}
	if isYAML(path) {
		file, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()
		dec := yaml.NewDecoder(file)
		dec.KnownFields(true)
		if err := dec.Decode(cfg); err != nil {
			return nil, fmt.Errorf("decode config: %w", err)
		}
	} else {
		meta, err := toml.DecodeFile(path, cfg)
		if err != nil {
			return nil, fmt.Errorf("decode config: %w", err)
		}
		if undecoded := meta.Undecoded(); len(undecoded) > 0 {
			return nil, fmt.Errorf("config file %s has unknown field %q", path, undecoded[0].String())
		}
	}

	applyDefaults(cfg)
	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	cfg.Network = strings.TrimSpace(cfg.Network)
	if cfg.Network == "" {
		cfg.Network = string(identity.Testnet)
	}
	if strings.TrimSpace(cfg.DataDir) == "" {
		cfg.DataDir = "./evovault-data"
	}
	if strings.TrimSpace(cfg.Database) == "" {
		cfg.Database = filepath.Join(cfg.DataDir, "evovault.db")
	}
	if cfg.ListenAddress == "" {
		cfg.ListenAddress = ":7090"
	}
	if cfg.PageSize == 0 {
		cfg.PageSize = int(withdrawals.DefaultPageSize)
	}
	if cfg.DefaultStatuses == nil {
		for _, s := range withdrawals.DefaultStatusSet().Statuses() {
			cfg.DefaultStatuses = append(cfg.DefaultStatuses, s.String())
		}
	}
	if cfg.ShutdownTimeout.Duration == 0 {
		cfg.ShutdownTimeout.Duration = 10 * time.Second
	}
}

func validate(cfg *Config) error {
	if _, err := identity.ParseNetwork(cfg.Network); err != nil {
		return fmt.Errorf("network: %w", err)
	}
	if _, err := withdrawals.ParsePageSize(cfg.PageSize); err != nil {
		return fmt.Errorf("page_size: %w", err)
	}
	if _, err := withdrawals.ParseStatusSet(strings.Join(cfg.DefaultStatuses, ",")); err != nil {
		return fmt.Errorf("default_statuses: %w", err)
	}
	if cfg.ShutdownTimeout.Duration < 0 {
		return fmt.Errorf("shutdown_timeout must not be negative")
	}
	return nil
}

// NetworkID returns the parsed network.
func (c *Config) NetworkID() identity.Network {
	network, err := identity.ParseNetwork(c.Network)
	if err != nil {
		return identity.Testnet
	}
	return network
}

// Query returns the initial withdrawal view preferences.
func (c *Config) Query() withdrawals.Query {
	q := withdrawals.DefaultQuery()
	if size, err := withdrawals.ParsePageSize(c.PageSize); err == nil {
		q.PageSize = size
	}
	if set, err := withdrawals.ParseStatusSet(strings.Join(c.DefaultStatuses, ",")); err == nil {
		q.Statuses = set
	}
	return q
}

// createDefault writes the default configuration to path and returns it.
func createDefault(path string) (*Config, error) {
	cfg := Default()
	if err := Write(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Write persists cfg to path in the format implied by its extension.
func Write(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config dir: %w", err)
		}
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0o644)
	if err != nil {
		return fmt.Errorf("open config: %w", err)
	}
	defer f.Close()

	if isYAML(path) {
		enc := yaml.NewEncoder(f)
		defer enc.Close()
		return enc.Encode(cfg)
	}
	return toml.NewEncoder(f).Encode(cfg)
}

func isYAML(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return true
	}
	return false
}
