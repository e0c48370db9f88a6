package ir

// Resource represents a single declared resource.
type Resource struct {
	Type       string         `yaml:"type"` // e.g., "aws:S3.Bucket"
	Name       string         `yaml:"name"`
	Provider   string         `yaml:"provider"`
	Lifecycle  *Lifecycle     `yaml:"lifecycle"`
	DependsOn  []string       `yaml:"dependsOn"`
	Count      int            `yaml:"count"`
	ForEach    map[string]any `yaml:"forEach"`
	Timeout    string         `yaml:"timeout"`
	Properties map[string]any `yaml:"properties"` // Dynamic properties
}

type Lifecycle struct {
	CreateBeforeDestroy bool     `yaml:"createBeforeDestroy"`
	PreventDestroy      bool     `yaml:"preventDestroy"`
	IgnoreChanges       []string `yaml:"ignoreChanges"`
}

// Addr returns the resource address (type.name), the identity used
// throughout the engine and the state store.
func (r *Resource) Addr() string {
	return r.Type + "." + r.Name
}
