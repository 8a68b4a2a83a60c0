// Package herrors defines hashdiff's stable error taxonomy (spec §7).
// Each variant is a distinct Go type so callers can tell them apart with
// errors.As rather than string matching; the string messages are
// diagnostic only and are not part of the contract.
package herrors

import (
	"fmt"
	"strings"
)

// ConfigInvalid signals a bad CLI invocation: mutually exclusive flags,
// a missing required file, or other malformed configuration.
type ConfigInvalid struct {
	Message string
}

func (e *ConfigInvalid) Error() string { return "invalid configuration: " + e.Message }

// IoError wraps an open/read/write failure, always naming the offending path.
type IoError struct {
	Path string
	Err  error
}

func (e *IoError) Error() string { return fmt.Sprintf("%s: %s", e.Path, e.Err) }
func (e *IoError) Unwrap() error { return e.Err }

// SnapshotDecodeError signals the graph loader could not decode the
// collaborator's node stream.
type SnapshotDecodeError struct {
	Message string
}

func (e *SnapshotDecodeError) Error() string { return "could not decode graph snapshot: " + e.Message }

// SubprocessFailed signals the collaborator process exited with a status
// that isn't an allowed success code.
type SubprocessFailed struct {
	Subcommand string
	ExitStatus int
}

func (e *SubprocessFailed) Error() string {
	return fmt.Sprintf("%s exited with status %d", e.Subcommand, e.ExitStatus)
}

// CircularDependency signals a cycle among rule inputs. Path is the
// recursion stack at the point the cycle was detected, innermost last.
type CircularDependency struct {
	Path []string
}

func (e *CircularDependency) Error() string {
	return "circular dependency: " + strings.Join(e.Path, " -> ")
}

// MissingGeneratingRule signals a GeneratedFile node whose generating_rule
// does not exist in the graph.
type MissingGeneratingRule struct {
	Label string
}

func (e *MissingGeneratingRule) Error() string {
	return fmt.Sprintf("generated file %s references unknown generating rule", e.Label)
}

// MissingTargetType signals that a type filter was requested but a hash
// string lacked the "kind#" prefix needed to classify it.
type MissingTargetType struct {
	Label string
}

func (e *MissingTargetType) Error() string {
	return fmt.Sprintf("%s has no target type (was --includeTargetType used when hashes were generated?)", e.Label)
}

// IndirectWithoutDepGraph signals an indirect impact classification was
// reached for a label with no entry at all in the dep-edges map.
type IndirectWithoutDepGraph struct {
	Label string
}

func (e *IndirectWithoutDepGraph) Error() string {
	return fmt.Sprintf("%s classified indirect but has no dependency-edge entry", e.Label)
}

// IndirectWithoutImpactedDep signals an indirect classification where no
// dependency of the label was itself impacted.
type IndirectWithoutImpactedDep struct {
	Label string
}

func (e *IndirectWithoutImpactedDep) Error() string {
	return fmt.Sprintf("%s classified indirect but none of its dependencies are impacted", e.Label)
}

// CycleInImpactGraph signals that distance computation over the dep-edges
// map encountered a cycle.
type CycleInImpactGraph struct {
	Label string
}

func (e *CycleInImpactGraph) Error() string {
	return fmt.Sprintf("cycle detected computing impact distance for %s", e.Label)
}
