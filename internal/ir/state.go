package ir

// State represents the persisted record of the last applied resource set.
type State struct {
	Version   int              `json:"version"`
	Lineage   string           `json:"lineage"`
	Revision  int              `json:"revision"` // increments on every commit
	Resources []*ResourceState `json:"resources"`
	Outputs   map[string]any   `json:"outputs,omitempty"`
}

// ResourceState is the persisted record of one applied resource.
// RemoteID is assigned by the provider on create and never changes for
// the life of the entry; replacement yields a new entry.
type ResourceState struct {
	Type         string         `json:"type"`
	Name         string         `json:"name"`
	Provider     string         `json:"provider"`
	RemoteID     string         `json:"remoteId"`
	Inputs       map[string]any `json:"inputs"`            // declared at apply time
	Outputs      map[string]any `json:"outputs"`           // provider resolved
	Dependencies []string       `json:"dependencies"`      // addresses this entry depended on
	Tainted      bool           `json:"tainted,omitempty"` // forces replacement on next apply

	// PreventDestroy survives the declaration so removing a protected
	// resource from config still aborts the plan.
	PreventDestroy bool `json:"preventDestroy,omitempty"`
}

// Addr returns the state entry address (type.name).
func (r *ResourceState) Addr() string {
	return r.Type + "." + r.Name
}

// Resource returns the state entry's set of inputs as a declared resource,
// used when planning deletions of entries no longer in config.
func (r *ResourceState) Resource() *Resource {
	return &Resource{
		Type:       r.Type,
		Name:       r.Name,
		Provider:   r.Provider,
		Properties: r.Inputs,
	}
}

// NewState returns an empty state at revision zero.
func NewState() *State {
	return &State{Version: 1}
}

// Find returns the entry with the given address, or nil.
func (s *State) Find(addr string) *ResourceState {
	for _, res := range s.Resources {
		if res.Addr() == addr {
			return res
		}
	}
	return nil
}

// Put inserts or replaces the entry with the same address.
func (s *State) Put(entry *ResourceState) {
	for i, res := range s.Resources {
		if res.Addr() == entry.Addr() {
			s.Resources[i] = entry
			return
		}
	}
	s.Resources = append(s.Resources, entry)
}

// Remove deletes the entry with the given address, if present.
func (s *State) Remove(addr string) {
	for i, res := range s.Resources {
		if res.Addr() == addr {
			s.Resources = append(s.Resources[:i], s.Resources[i+1:]...)
			return
		}
	}
}
