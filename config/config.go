// Package config loads the settings shared by the userdir binaries.
//
// Values come from, lowest priority first:
//  1. the defaults the binary passes in
//  2. a YAML file named by CONFIG_PATH or --config, if any
//  3. environment variables
package config

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

type Config struct {
	// Env selects the log format: "prod" logs JSON, anything else is console output.
	Env string `yaml:"env" env:"ENV"`

	RPC      RPC      `yaml:"rpc"`
	HTTP     HTTP     `yaml:"http"`
	Upstream Upstream `yaml:"upstream"`
}

// RPC configures an RPC listener. Zero rate limit or timeout disables it.
type RPC struct {
	Address         string        `yaml:"address" env:"RPC_ADDRESS"`
	MaxWorkers      int           `yaml:"max_workers" env:"RPC_MAX_WORKERS"`
	Timeout         time.Duration `yaml:"timeout" env:"RPC_TIMEOUT"`
	RateLimit       float64       `yaml:"rate_limit" env:"RPC_RATE_LIMIT"`
	RateBurst       int           `yaml:"rate_burst" env:"RPC_RATE_BURST"`
	// ShutdownTimeout also bounds the HTTP server's graceful shutdown.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"RPC_SHUTDOWN_TIMEOUT"`
}

type HTTP struct {
	Address      string        `yaml:"address" env:"HTTP_ADDRESS"`
	ReadTimeout  time.Duration `yaml:"read_timeout" env:"HTTP_READ_TIMEOUT"`
	WriteTimeout time.Duration `yaml:"write_timeout" env:"HTTP_WRITE_TIMEOUT"`
	IdleTimeout  time.Duration `yaml:"idle_timeout" env:"HTTP_IDLE_TIMEOUT"`
}

// Upstream is where the front ends relay to.
type Upstream struct {
	Directory   string        `yaml:"directory" env:"UPSTREAM_DIRECTORY"`
	Echo        string        `yaml:"echo" env:"UPSTREAM_ECHO"`
	PoolSize    int           `yaml:"pool_size" env:"UPSTREAM_POOL_SIZE"`
	DialTimeout time.Duration `yaml:"dial_timeout" env:"UPSTREAM_DIAL_TIMEOUT"`
	CallTimeout time.Duration `yaml:"call_timeout" env:"UPSTREAM_CALL_TIMEOUT"`
	Codec       string        `yaml:"codec" env:"UPSTREAM_CODEC"`
}

// Base holds the defaults every binary starts from.
func Base() Config {
	return Config{
		Env: "dev",
		RPC: RPC{
			MaxWorkers:      10,
			ShutdownTimeout: 5 * time.Second,
		},
		HTTP: HTTP{
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		Upstream: Upstream{
			Directory:   "localhost:50051",
			Echo:        "localhost:50052",
			PoolSize:    4,
			DialTimeout: 3 * time.Second,
			Codec:       "json",
		},
	}
}

// Load fills defaults from path (skipped when empty) and the environment.
func Load(path string, defaults Config) (*Config, error) {
	cfg := defaults
	if path == "" {
		if err := cleanenv.ReadEnv(&cfg); err != nil {
			return nil, fmt.Errorf("read env: %w", err)
		}
		return &cfg, nil
	}

	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("config file does not exist: %s", path)
	}
	if err := cleanenv.ReadConfig(path, &cfg); err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	return &cfg, nil
}

// MustLoad resolves the config path from CONFIG_PATH or the --config flag
// and exits the process if the config cannot be read.
func MustLoad(defaults Config) *Config {
	path := os.Getenv("CONFIG_PATH")
	if path == "" {
		flagPath := flag.String("config", "", "path to the configuration YAML file")
		flag.Parse()
		path = *flagPath
	}

	cfg, err := Load(path, defaults)
	if err != nil {
		fmt.Fprintf(os.Stderr, "cannot load config: %v\n", err)
		os.Exit(1)
	}
	return cfg
}
