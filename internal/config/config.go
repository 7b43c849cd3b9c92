package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Auth      AuthConfig      `yaml:"auth"`
	Engine    EngineConfig    `yaml:"engine"`
	Tailscale TailscaleConfig `yaml:"tailscale"`
}

type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"sslmode"`
}

type AuthConfig struct {
	DeviceAPIKey   string `yaml:"device_api_key"`
	IdentityURL    string `yaml:"identity_url"`
	IdentityAPIKey string `yaml:"identity_api_key"`
}

type EngineConfig struct {
	StateDir           string `yaml:"state_dir"`
	ReplayIntervalMins int    `yaml:"replay_interval_minutes"`
}

type TailscaleConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Hostname string `yaml:"hostname"`
	StateDir string `yaml:"state_dir"`
}

// DSN returns a PostgreSQL connection string.
func (d DatabaseConfig) DSN() string {
	sslmode := d.SSLMode
	if sslmode == "" {
		sslmode = "disable"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.Name, sslmode)
}

// ReplayInterval returns how often the pending-finish replay pass runs.
func (e EngineConfig) ReplayInterval() int {
	if e.ReplayIntervalMins <= 0 {
		return 15
	}
	return e.ReplayIntervalMins
}

// Load reads config from a YAML file, then applies environment variable
// overrides. Env vars use the prefix KINEVO_ and underscore-separated paths:
//
//	KINEVO_SERVER_HOST, KINEVO_SERVER_PORT,
//	KINEVO_DB_HOST, KINEVO_DB_PORT, KINEVO_DB_NAME,
//	KINEVO_DB_USER, KINEVO_DB_PASSWORD, KINEVO_DB_SSLMODE,
//	KINEVO_AUTH_DEVICE_API_KEY, KINEVO_AUTH_IDENTITY_URL,
//	KINEVO_AUTH_IDENTITY_API_KEY, KINEVO_ENGINE_STATE_DIR
func Load(path string) (*Config, error) {
	cfg := &Config{}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("KINEVO_SERVER_HOST"); v != "" {
		cfg.Server.Host = v
	}
	if v := os.Getenv("KINEVO_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("KINEVO_DB_HOST"); v != "" {
		cfg.Database.Host = v
	}
	if v := os.Getenv("KINEVO_DB_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Database.Port = port
		}
	}
	if v := os.Getenv("KINEVO_DB_NAME"); v != "" {
		cfg.Database.Name = v
	}
	if v := os.Getenv("KINEVO_DB_USER"); v != "" {
		cfg.Database.User = v
	}
	if v := os.Getenv("KINEVO_DB_PASSWORD"); v != "" {
		cfg.Database.Password = v
	}
	if v := os.Getenv("KINEVO_DB_SSLMODE"); v != "" {
		cfg.Database.SSLMode = v
	}
	if v := os.Getenv("KINEVO_AUTH_DEVICE_API_KEY"); v != "" {
		cfg.Auth.DeviceAPIKey = v
	}
	if v := os.Getenv("KINEVO_AUTH_IDENTITY_URL"); v != "" {
		cfg.Auth.IdentityURL = v
	}
	if v := os.Getenv("KINEVO_AUTH_IDENTITY_API_KEY"); v != "" {
		cfg.Auth.IdentityAPIKey = v
	}
	if v := os.Getenv("KINEVO_ENGINE_STATE_DIR"); v != "" {
		cfg.Engine.StateDir = v
	}
}

func (c *Config) validate() error {
	if c.Server.Port == 0 {
		return fmt.Errorf("server.port is required")
	}
	if c.Database.Host == "" {
		return fmt.Errorf("database.host is required")
	}
	if c.Database.Port == 0 {
		return fmt.Errorf("database.port is required")
	}
	if c.Database.Name == "" {
		return fmt.Errorf("database.name is required")
	}
	if c.Database.User == "" {
		return fmt.Errorf("database.user is required")
	}
	if c.Auth.DeviceAPIKey == "" {
		return fmt.Errorf("auth.device_api_key is required")
	}
	if c.Auth.IdentityURL == "" {
		return fmt.Errorf("auth.identity_url is required")
	}
	if c.Engine.StateDir == "" {
		return fmt.Errorf("engine.state_dir is required")
	}
	return nil
}
