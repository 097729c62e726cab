package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"github.com/mitchellh/mapstructure"
	"gopkg.in/yaml.v3"
)

const configHeader = `# DittoHTTP Configuration File
#
# Values here can be overridden with DITTOHTTP_* environment variables,
# e.g. DITTOHTTP_LOGGING_LEVEL=DEBUG or DITTOHTTP_ADAPTERS_HTTP_PORT=9000.
#
# content.type selects the store that serves files:
#   filesystem - files in content.filesystem.path
#   memory     - ephemeral, lost on restart
#   s3         - objects in content.s3.bucket
#   badger     - embedded key-value database at content.badger.path
#
# adapters.http.lock.policy is one of readers, writers or nway.

`

// InitConfig writes a default configuration file to the default location.
//
// Returns the path of the written file. Fails if a file already exists
// unless force is set.
func InitConfig(force bool) (string, error) {
	path := GetDefaultConfigPath()
	if err := InitConfigToPath(path, force); err != nil {
		return "", err
	}
	return path, nil
}

// InitConfigToPath writes a default configuration file to path, creating
// parent directories as needed.
func InitConfigToPath(path string, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config file already exists at %s (use --force to overwrite)", path)
		}
	}

	data, err := renderConfig(GetDefaultConfig())
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// renderConfig encodes cfg as commented YAML using the mapstructure key
// names, so the output loads back through Load unchanged.
func renderConfig(cfg *Config) ([]byte, error) {
	var tree map[string]any
	if err := mapstructure.Decode(cfg, &tree); err != nil {
		return nil, fmt.Errorf("failed to convert config: %w", err)
	}

	var buf bytes.Buffer
	buf.WriteString(configHeader)

	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(tree); err != nil {
		return nil, fmt.Errorf("failed to encode config: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("failed to encode config: %w", err)
	}

	return buf.Bytes(), nil
}
