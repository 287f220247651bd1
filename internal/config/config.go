package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the tunable parameters of the backend. Secrets and
// deployment-specific URLs (DATABASE_URL, APP_JWT_SECRET, PORT, Firebase
// credentials) stay in the environment; everything here has a sane default
// and can be overridden from a YAML file.
type Config struct {
	Routing   RoutingConfig   `yaml:"routing"`
	Optimizer OptimizerConfig `yaml:"optimizer"`
	Execution ExecutionConfig `yaml:"execution"`
	OneWay    OneWayConfig    `yaml:"oneway"`
}

// RoutingConfig configures the OSRM and Nominatim clients.
type RoutingConfig struct {
	OSRMBaseURL       string        `yaml:"osrmBaseUrl"`
	NominatimBaseURL  string        `yaml:"nominatimBaseUrl"`
	RequestTimeout    time.Duration `yaml:"requestTimeout"`
	RetryAttempts     int           `yaml:"retryAttempts"` // extra attempts after the first
	RetryBaseDelay    time.Duration `yaml:"retryBaseDelay"`
	ReferenceSpeedMPS float64       `yaml:"referenceSpeedMps"` // for duration estimates on fallback routes
}

// OptimizerConfig bounds the brute-force route search.
type OptimizerConfig struct {
	MaxLocations    int `yaml:"maxLocations"`
	PrefetchWorkers int `yaml:"prefetchWorkers"`
}

// ExecutionConfig controls visit-execution sessions.
type ExecutionConfig struct {
	GeofenceRadiusMeters float64       `yaml:"geofenceRadiusMeters"`
	SessionTTL           time.Duration `yaml:"sessionTtl"`
	SweepInterval        time.Duration `yaml:"sweepInterval"`
}

// OneWayConfig holds the localized road-name keywords the one-way heuristic
// looks for.
type OneWayConfig struct {
	Keywords []string `yaml:"keywords"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Routing: RoutingConfig{
			OSRMBaseURL:       "https://router.project-osrm.org",
			NominatimBaseURL:  "https://nominatim.openstreetmap.org",
			RequestTimeout:    10 * time.Second,
			RetryAttempts:     3,
			RetryBaseDelay:    time.Second,
			ReferenceSpeedMPS: 1.4,
		},
		Optimizer: OptimizerConfig{
			MaxLocations:    10,
			PrefetchWorkers: 4,
		},
		Execution: ExecutionConfig{
			GeofenceRadiusMeters: 100,
			SessionTTL:           time.Hour,
			SweepInterval:        time.Minute,
		},
		OneWay: OneWayConfig{
			Keywords: []string{"satu arah", "one way", "one-way"},
		},
	}
}

// Load reads the YAML config at path over the defaults. A missing file is not
// an error; a malformed one is.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validate config %s: %w", path, err)
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.Optimizer.MaxLocations < 1 {
		return fmt.Errorf("optimizer.maxLocations must be at least 1, got %d", c.Optimizer.MaxLocations)
	}
	if c.Optimizer.PrefetchWorkers < 1 {
		return fmt.Errorf("optimizer.prefetchWorkers must be at least 1, got %d", c.Optimizer.PrefetchWorkers)
	}
	if c.Execution.GeofenceRadiusMeters <= 0 {
		return fmt.Errorf("execution.geofenceRadiusMeters must be positive, got %f", c.Execution.GeofenceRadiusMeters)
	}
	if c.Execution.SessionTTL <= 0 {
		return fmt.Errorf("execution.sessionTtl must be positive")
	}
	if c.Execution.SweepInterval <= 0 {
		return fmt.Errorf("execution.sweepInterval must be positive")
	}
	if c.Routing.ReferenceSpeedMPS <= 0 {
		return fmt.Errorf("routing.referenceSpeedMps must be positive, got %f", c.Routing.ReferenceSpeedMPS)
	}
	if c.Routing.RetryAttempts < 0 {
		return fmt.Errorf("routing.retryAttempts must not be negative, got %d", c.Routing.RetryAttempts)
	}
	return nil
}
