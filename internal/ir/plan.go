package ir

// Action is the operation the engine will take on a resource.
type Action string

const (
	ActionNoOp    Action = "NOOP"
	ActionCreate  Action = "CREATE"
	ActionUpdate  Action = "UPDATE"
	ActionReplace Action = "REPLACE"
	ActionDelete  Action = "DELETE"
)

// Plan represents a calculated execution plan. Plans are derived per run
// and never persisted.
type Plan struct {
	Metadata *PlanMetadata
	Changes  []*ResourceChange
	Summary  *PlanSummary
	Outputs  map[string]any
}

type PlanMetadata struct {
	Timestamp string
	// StateRevision is the revision of the state the plan was computed
	// against. Apply re-checks it under the lock.
	StateRevision int
}

type ResourceChange struct {
	Address string
	Action  Action
	Desired *Resource
	Prior   *ResourceState
	Diff    map[string]*AttributeDiff
}

type AttributeDiff struct {
	Before any
	After  any
	// Unknown marks a value that references another resource with pending
	// changes; it is resolved against real outputs at apply time.
	Unknown bool
	Action  string // "create", "update", "delete"
}

type PlanSummary struct {
	Create  int
	Update  int
	Delete  int
	Replace int
	NoOp    int
}

// Empty reports whether the plan contains no changes at all.
func (p *Plan) Empty() bool {
	return len(p.Changes) == 0
}
