package config

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

const (
	maxConfigFileSize = 1024 * 1024 // 1MB

	// envPrefix namespaces repograph environment variables.
	envPrefix = "REPOGRAPH_"
)

// Load loads configuration from a YAML file, then overrides with
// environment variables.
//
// Configuration precedence (highest to lowest):
//  1. Environment variables (REPOGRAPH_SERVER_PORT, REPOGRAPH_VECTORSTORE_PROVIDER, ...)
//  2. YAML config file
//  3. Hardcoded defaults
//
// The configPath parameter specifies the YAML file to load. If empty, the
// default path ~/.config/repograph/config.yaml is used. A missing file is
// not an error; defaults and environment apply.
//
// Environment variables use an underscore separator and are uppercased.
// The transformer splits on the first underscore after the prefix:
//
//	REPOGRAPH_SERVER_PORT          -> server.port
//	REPOGRAPH_EMBEDDINGS_BASE_URL  -> embeddings.base_url
//	REPOGRAPH_VECTORSTORE_PROVIDER -> vectorstore.provider
func Load(configPath string) (*Config, error) {
	k := koanf.New(".")

	if configPath == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		configPath = home + "/.config/repograph/config.yaml"
	}

	if _, err := os.Stat(configPath); err == nil {
		f, err := os.Open(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to open config file: %w", err)
		}
		defer f.Close()

		info, err := f.Stat()
		if err != nil {
			return nil, fmt.Errorf("failed to stat config file: %w", err)
		}
		if info.Size() > maxConfigFileSize {
			return nil, fmt.Errorf("config file too large: %d bytes (max %d)", info.Size(), maxConfigFileSize)
		}

		content, err := io.ReadAll(f)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}

		// rawbytes avoids re-opening the file after validation.
		if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	}

	if err := k.Load(env.Provider(envPrefix, ".", func(s string) string {
		// REPOGRAPH_VECTORSTORE_QDRANT_HOST -> vectorstore.qdrant_host is
		// wrong, so nested backend keys split on the first two underscores
		// when the second segment names a known subsection.
		lower := strings.ToLower(strings.TrimPrefix(s, envPrefix))
		parts := strings.SplitN(lower, "_", 2)
		if len(parts) == 1 {
			return lower
		}
		section := parts[0]
		field := parts[1]
		for _, sub := range []string{"chromem_", "qdrant_", "sqlite_"} {
			if section == "vectorstore" && strings.HasPrefix(field, sub) {
				return section + "." + strings.TrimSuffix(sub, "_") + "." + strings.TrimPrefix(field, sub)
			}
		}
		return section + "." + field
	}), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}
