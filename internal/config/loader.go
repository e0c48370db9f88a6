package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/stackform-io/stackform/internal/ir"
)

// Load reads and validates a declared configuration from a YAML file.
func Load(path string) (*ir.Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	return Parse(raw)
}

// Parse decodes a declared configuration from YAML bytes.
func Parse(raw []byte) (*ir.Config, error) {
	var cfg ir.Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// validate checks the declaration-level rules the engine assumes: every
// resource has an identity and a provider, and identities are unique.
// Graph-level rules (cycles, reference resolution) are the engine's job.
func validate(cfg *ir.Config) error {
	seen := make(map[string]bool)
	for i, res := range cfg.Resources {
		if res == nil {
			return fmt.Errorf("resource at index %d is empty", i)
		}
		if res.Type == "" {
			return fmt.Errorf("resource %q is missing a type", res.Name)
		}
		if res.Name == "" {
			return fmt.Errorf("resource of type %s at index %d is missing a name", res.Type, i)
		}
		if res.Provider == "" {
			return fmt.Errorf("resource %s is missing a provider", res.Addr())
		}
		if res.Count > 0 && len(res.ForEach) > 0 {
			return fmt.Errorf("resource %s declares both count and forEach", res.Addr())
		}
		if seen[res.Addr()] {
			return fmt.Errorf("duplicate resource identity: %s declared more than once", res.Addr())
		}
		seen[res.Addr()] = true
	}

	if cfg.Backend != nil {
		switch cfg.Backend.Type {
		case "", "local", "s3":
		default:
			return fmt.Errorf("unknown backend type: %s", cfg.Backend.Type)
		}
	}
	return nil
}

// DefaultFileName is the configuration entry point looked up when no path
// is given on the command line.
const DefaultFileName = "stackform.yaml"
