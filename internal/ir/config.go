package ir

// Config represents the top-level declared configuration.
type Config struct {
	Providers map[string]*ProviderConfig `yaml:"providers"`
	Backend   *BackendConfig             `yaml:"backend"`
	Resources []*Resource                `yaml:"resources"`
	Outputs   map[string]any             `yaml:"outputs"`
}

// ProviderConfig carries per-provider connection settings.
// Endpoint overrides the API endpoint for local emulation (LocalStack).
type ProviderConfig struct {
	Region   string `yaml:"region"`
	Profile  string `yaml:"profile"`
	Endpoint string `yaml:"endpoint"`
}

// BackendConfig selects where state is stored.
type BackendConfig struct {
	Type   string            `yaml:"type"` // "local" or "s3"
	Config map[string]string `yaml:"config"`
}
