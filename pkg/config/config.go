// Package config loads process configuration from the environment. A .env
// file, when present, is loaded by the caller before Load runs.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config is the full process configuration.
type Config struct {
	// Port is the HTTP listen port.
	Port int

	// APIURL is the externally reachable address handed to spawned workers.
	APIURL string

	// SkipAuth disables API-key enforcement. Development only.
	SkipAuth bool

	// Session lifecycle timers.
	StartupTimeout time.Duration
	IdleTimeout    time.Duration
	GraceTTL       time.Duration
	SweepInterval  time.Duration

	// Object storage for file sync and share policies.
	AWSRegion    string
	SyncBucket   string
	SyncPrefix   string
	SyncDir      string
	SyncInterval time.Duration

	// Worker spawning on ECS. Spawning is disabled when Cluster is empty.
	ECSCluster        string
	ECSTaskDefinition string
	ECSContainerName  string
	ECSSubnets        []string
	ECSSecurityGroups []string
	ECSAssignPublicIP bool
	ECSCPU            int
	ECSMemory         int
}

// Load reads configuration from the environment and validates it.
func Load() (*Config, error) {
	cfg := &Config{
		Port:           envInt("PORT", 8080),
		APIURL:         os.Getenv("API_URL"),
		SkipAuth:       envBool("SKIP_AUTH"),
		StartupTimeout: envDuration("SESSION_STARTUP_TIMEOUT", 5*time.Minute),
		IdleTimeout:    envDuration("SESSION_IDLE_TIMEOUT", 30*time.Minute),
		GraceTTL:       envDuration("SESSION_GRACE_TTL", 5*time.Minute),
		SweepInterval:  envDuration("SESSION_SWEEP_INTERVAL", 30*time.Second),

		AWSRegion:    os.Getenv("AWS_REGION"),
		SyncBucket:   os.Getenv("SYNC_BUCKET"),
		SyncPrefix:   os.Getenv("SYNC_PREFIX"),
		SyncDir:      os.Getenv("SYNC_DIR"),
		SyncInterval: envDuration("SYNC_INTERVAL", 30*time.Second),

		ECSCluster:        os.Getenv("ECS_CLUSTER"),
		ECSTaskDefinition: os.Getenv("ECS_TASK_DEFINITION"),
		ECSContainerName:  os.Getenv("ECS_CONTAINER_NAME"),
		ECSSubnets:        envList("ECS_SUBNETS"),
		ECSSecurityGroups: envList("ECS_SECURITY_GROUPS"),
		ECSAssignPublicIP: envBool("ECS_ASSIGN_PUBLIC_IP"),
		ECSCPU:            envInt("ECS_CPU", 0),
		ECSMemory:         envInt("ECS_MEMORY", 0),
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("PORT must be in 1-65535, got %d", c.Port)
	}
	if c.SpawnEnabled() {
		if c.APIURL == "" {
			return fmt.Errorf("API_URL is required when ECS spawning is configured")
		}
		if c.ECSTaskDefinition == "" || c.ECSContainerName == "" {
			return fmt.Errorf("ECS_TASK_DEFINITION and ECS_CONTAINER_NAME are required when ECS_CLUSTER is set")
		}
	}
	if c.SyncEnabled() {
		if c.SyncDir == "" {
			return fmt.Errorf("SYNC_DIR is required when SYNC_BUCKET is set")
		}
	}
	return nil
}

// SpawnEnabled reports whether worker spawning is configured.
func (c *Config) SpawnEnabled() bool { return c.ECSCluster != "" }

// SyncEnabled reports whether the file-sync poller is configured.
func (c *Config) SyncEnabled() bool { return c.SyncBucket != "" }

func envInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func envBool(key string) bool {
	switch strings.ToLower(os.Getenv(key)) {
	case "1", "true", "yes":
		return true
	}
	return false
}

func envDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}

func envList(key string) []string {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
