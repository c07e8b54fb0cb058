// Package config provides configuration loading for profiled.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

const (
	maxConfigFileSize = 1 << 20

	// DefaultEnvPrefix is the environment variable prefix read by Load.
	DefaultEnvPrefix = "PROFILED_"
)

// configDir is the per-user configuration directory.
func configDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, ".config", "profiled"), nil
}

// DefaultPath returns ~/.config/profiled/config.yaml.
func DefaultPath() (string, error) {
	dir, err := configDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.yaml"), nil
}

// Load layers configuration onto out, which must be a pointer to a struct
// already populated with defaults.
//
// Configuration precedence (highest to lowest):
//  1. Environment variables (PROFILED_SERVER_PORT, PROFILED_TELEMETRY_ENDPOINT, etc.)
//  2. Config file (YAML, or TOML when the path ends in .toml)
//  3. Defaults already present in out
//
// A missing file is not an error. Files must live in ~/.config/profiled/ or
// /etc/profiled/, have 0600 or 0400 permissions and be at most 1MB.
//
// # Environment Variable Mapping
//
// The prefix is stripped, the remainder lowercased and split on the first
// underscore into section and field. A double underscore inside the field
// descends one more level:
//
//	PROFILED_SERVER_PORT                         -> server.port
//	PROFILED_TELEMETRY_SERVICE_NAME              -> telemetry.service_name
//	PROFILED_TELEMETRY_METRICS__EXPORT_INTERVAL  -> telemetry.metrics.export_interval
func Load(configPath, envPrefix string, out interface{}) error {
	k := koanf.New(".")

	if configPath == "" {
		p, err := DefaultPath()
		if err != nil {
			return err
		}
		configPath = p
	}

	if err := validateConfigPath(configPath); err != nil {
		return fmt.Errorf("config path validation failed: %w", err)
	}

	if _, err := os.Stat(configPath); err == nil {
		content, err := readConfigFile(configPath)
		if err != nil {
			return err
		}
		if err := k.Load(rawbytes.Provider(content), parserFor(configPath)); err != nil {
			return fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	}

	if err := k.Load(env.Provider(envPrefix, ".", func(s string) string {
		return envKey(envPrefix, s)
	}), nil); err != nil {
		return fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := k.Unmarshal("", out); err != nil {
		return fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return nil
}

// envKey maps an environment variable name to a koanf key path.
func envKey(prefix, name string) string {
	lower := strings.ToLower(strings.TrimPrefix(name, prefix))
	parts := strings.SplitN(lower, "_", 2)
	if len(parts) == 1 {
		return lower
	}
	return parts[0] + "." + strings.ReplaceAll(parts[1], "__", ".")
}

// readConfigFile checks and reads through a single descriptor so the file
// cannot be swapped between the checks and the read.
func readConfigFile(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	if err := checkFileInfo(info); err != nil {
		return nil, fmt.Errorf("config file validation failed: %w", err)
	}
	// Read one byte past the limit to detect growth after Stat.
	content, err := io.ReadAll(io.LimitReader(f, maxConfigFileSize+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if len(content) > maxConfigFileSize {
		return nil, fmt.Errorf("config file too large: more than %d bytes", maxConfigFileSize)
	}
	return content, nil
}

func parserFor(path string) koanf.Parser {
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		return TOMLParser()
	}
	return yaml.Parser()
}

// EnsureConfigDir creates ~/.config/profiled with 0700 permissions.
func EnsureConfigDir() error {
	dir, err := configDir()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("failed to create config directory %s: %w", dir, err)
	}
	return nil
}

// resolve returns the absolute path with symlinks evaluated where possible.
func resolve(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("failed to resolve path: %w", err)
	}
	if evaluated, err := filepath.EvalSymlinks(abs); err == nil {
		return evaluated, nil
	}
	return abs, nil
}

// validateConfigPath rejects paths outside ~/.config/profiled/ and
// /etc/profiled/. The file itself need not exist.
func validateConfigPath(path string) error {
	target, err := resolve(path)
	if err != nil {
		return err
	}
	dir, err := configDir()
	if err != nil {
		return err
	}
	userDir, err := resolve(dir)
	if err != nil {
		return err
	}
	sep := string(filepath.Separator)
	for _, allowed := range []string{userDir + sep, "/etc/profiled/"} {
		if strings.HasPrefix(target, allowed) {
			return nil
		}
	}
	return errors.New("config file must be in ~/.config/profiled/ or /etc/profiled/")
}

func checkFileInfo(info os.FileInfo) error {
	if perm := info.Mode().Perm(); runtime.GOOS != "windows" && perm != 0600 && perm != 0400 {
		return fmt.Errorf("insecure config file permissions: %v (expected 0600 or 0400)", perm)
	}
	if info.Size() > maxConfigFileSize {
		return fmt.Errorf("config file too large: %d bytes (max %d)", info.Size(), maxConfigFileSize)
	}
	return nil
}

// tomlParser implements koanf.Parser on top of BurntSushi/toml.
type tomlParser struct{}

// TOMLParser returns a koanf parser for TOML documents.
func TOMLParser() koanf.Parser {
	return tomlParser{}
}

func (tomlParser) Unmarshal(b []byte) (map[string]interface{}, error) {
	out := map[string]interface{}{}
	if err := toml.Unmarshal(b, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (tomlParser) Marshal(m map[string]interface{}) ([]byte, error) {
	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(m); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
