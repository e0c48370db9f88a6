package engine

import (
	"errors"
	"fmt"
	"strings"
)

// ConfigError is the class of declaration failures that abort a run before
// any mutation: cycles, duplicate identities, unresolved references, and
// malformed declarations.
type ConfigError struct {
	Err error
}

func (e *ConfigError) Error() string { return fmt.Sprintf("config error: %v", e.Err) }
func (e *ConfigError) Unwrap() error { return e.Err }

// IsConfigError reports whether err is fatal-before-mutation.
func IsConfigError(err error) bool {
	var ce *ConfigError
	return errors.As(err, &ce)
}

// CycleError reports a dependency cycle in the declared graph.
type CycleError struct {
	Nodes []string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("dependency cycle detected involving: %s", strings.Join(e.Nodes, ", "))
}

// DuplicateIdentityError reports two declarations sharing (type, name).
type DuplicateIdentityError struct {
	Address string
}

func (e *DuplicateIdentityError) Error() string {
	return fmt.Sprintf("duplicate resource identity: %s declared more than once", e.Address)
}

// UnresolvedReferenceError reports an attribute or dependsOn entry that
// references a resource not present in the declared graph.
type UnresolvedReferenceError struct {
	Address   string // the referencing resource
	Reference string // the missing target
}

func (e *UnresolvedReferenceError) Error() string {
	return fmt.Sprintf("resource %s references %s, which is not declared", e.Address, e.Reference)
}

// StaleStateError reports that state changed between planning and apply,
// detected by the optimistic revision re-check under the lock. The run is
// aborted; retrying from scratch is safe.
type StaleStateError struct {
	PlannedRevision int
	CurrentRevision int
}

func (e *StaleStateError) Error() string {
	return fmt.Sprintf("state changed since plan was computed (revision %d, now %d); re-run plan",
		e.PlannedRevision, e.CurrentRevision)
}
