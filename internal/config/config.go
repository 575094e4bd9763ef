// Package config loads host configuration from an optional .env file at the
// project root plus environment-variable overrides; environment variables
// always win over the file.
package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// HostConfig selects which driver to load and how to size the host's
// stream buffers.
type HostConfig struct {
	Driver         string
	DriverLibDir   string
	HostIdx        int
	BlockReadSize  uint32
	BlockWriteSize uint32
}

var (
	hostConfig   *HostConfig
	configLoaded bool
)

// LoadHostConfig loads configuration once and caches it for the life of
// the process.
func LoadHostConfig() (*HostConfig, error) {
	if hostConfig != nil && configLoaded {
		return hostConfig, nil
	}

	cfg := &HostConfig{
		Driver:  "test",
		HostIdx: 0,
	}

	projectRoot := findProjectRoot()
	envPath := filepath.Join(projectRoot, ".env")
	if data, err := os.ReadFile(envPath); err == nil {
		parseEnvFile(string(data), cfg)
	}

	if v := os.Getenv("ONI_DRIVER"); v != "" {
		cfg.Driver = v
	}
	if v := os.Getenv("ONI_DRIVER_LIB_DIR"); v != "" {
		cfg.DriverLibDir = v
	}
	if v := os.Getenv("ONI_HOST_IDX"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.HostIdx = n
		}
	}
	if v := os.Getenv("ONI_BLOCK_READ_SIZE"); v != "" {
		if n, err := strconv.ParseUint(v, 10, 32); err == nil {
			cfg.BlockReadSize = uint32(n)
		}
	}
	if v := os.Getenv("ONI_BLOCK_WRITE_SIZE"); v != "" {
		if n, err := strconv.ParseUint(v, 10, 32); err == nil {
			cfg.BlockWriteSize = uint32(n)
		}
	}

	hostConfig = cfg
	configLoaded = true
	return cfg, nil
}

func parseEnvFile(content string, cfg *HostConfig) {
	lines := strings.Split(content, "\n")
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}
		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])

		switch key {
		case "ONI_DRIVER":
			cfg.Driver = value
		case "ONI_DRIVER_LIB_DIR":
			cfg.DriverLibDir = value
		case "ONI_HOST_IDX":
			if n, err := strconv.Atoi(value); err == nil {
				cfg.HostIdx = n
			}
		case "ONI_BLOCK_READ_SIZE":
			if n, err := strconv.ParseUint(value, 10, 32); err == nil {
				cfg.BlockReadSize = uint32(n)
			}
		case "ONI_BLOCK_WRITE_SIZE":
			if n, err := strconv.ParseUint(value, 10, 32); err == nil {
				cfg.BlockWriteSize = uint32(n)
			}
		}
	}
}

func findProjectRoot() string {
	cwd, _ := os.Getwd()
	if _, err := os.Stat(filepath.Join(cwd, ".env")); err == nil {
		return cwd
	}
	for {
		if _, err := os.Stat(filepath.Join(cwd, "go.mod")); err == nil {
			return cwd
		}
		parent := filepath.Dir(cwd)
		if parent == cwd {
			return cwd
		}
		cwd = parent
	}
}
