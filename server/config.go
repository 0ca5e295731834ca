package server

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/janelia-flyem/NeuroProof-sub000/np"
	"github.com/janelia-flyem/NeuroProof-sub000/pipeline"
)

const (
	// DefaultWebAddress is the default address of the HTTP server.
	DefaultWebAddress = "localhost:8000"

	// DefaultMaxBodyMB bounds the size of a posted graph document.
	DefaultMaxBodyMB = 256

	// DefaultMaxJobs is the number of agglomerations run at once.
	DefaultMaxJobs = 1
)

// Config is the TOML configuration of a server.  The agglomeration and refine
// sections give defaults that query strings override per request.
type Config struct {
	Server        WebConfig
	Auth          authConfig
	Logging       np.LogConfig
	Agglomeration pipeline.AgglomerationConfig
	Refine        pipeline.RefineConfig
}

// WebConfig holds the listening parameters.
type WebConfig struct {
	Address       string
	CorsDomains   []string `toml:"cors_domains"`
	MaxBodyMB     int      `toml:"max_body_mb"`
	MaxJobs       int      `toml:"max_jobs"`
	Timeout       int      // seconds per agglomeration, 0 is unlimited
	ShutdownDelay int      `toml:"shutdown_delay"` // seconds
}

// DefaultConfig returns the settings used when no config file is given.
func DefaultConfig() Config {
	return Config{
		Server: WebConfig{
			Address:       DefaultWebAddress,
			MaxBodyMB:     DefaultMaxBodyMB,
			MaxJobs:       DefaultMaxJobs,
			ShutdownDelay: 5,
		},
		Agglomeration: pipeline.AgglomerationConfig{
			Algorithm: pipeline.AlgorithmProb,
			Threshold: 0.2,
		},
	}
}

func (c WebConfig) timeout() time.Duration {
	return time.Duration(c.Timeout) * time.Second
}

func (c *Config) convertPathsToAbsolute(configPath string) error {
	var err error
	configDir := filepath.Dir(configPath)
	if c.Logging.Logfile, err = np.ConvertToAbsolute(c.Logging.Logfile, configDir); err != nil {
		return fmt.Errorf("logging.logfile: %v", err)
	}
	if c.Auth.AuthFile, err = np.ConvertToAbsolute(c.Auth.AuthFile, configDir); err != nil {
		return fmt.Errorf("auth.auth_file: %v", err)
	}
	return nil
}

// LoadConfig reads a server TOML file over the defaults.
func LoadConfig(filename string) (*Config, error) {
	if filename == "" {
		return nil, fmt.Errorf("no server config file given")
	}
	c := DefaultConfig()
	if _, err := toml.DecodeFile(filename, &c); err != nil {
		return nil, fmt.Errorf("could not decode TOML config: %v", err)
	}
	if err := c.convertPathsToAbsolute(filename); err != nil {
		return nil, fmt.Errorf("could not convert relative paths to absolute paths in TOML config: %v", err)
	}
	return &c, nil
}
