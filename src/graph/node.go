// Package graph holds the typed in-memory representation of a build-graph
// snapshot (spec §3) and the loader that turns a flat decoded node stream
// into it (spec §4.4).
//
// Modelled on please's core.BuildTarget / core.Package split (a rule-like
// type carrying attributes and declared inputs, sources and generated
// files tracked separately), adapted from please's single concrete
// BuildTarget struct to a tagged variant, since this spec's graph mixes
// three genuinely different node shapes rather than one struct with
// optional fields.
package graph

import "github.com/thought-machine/hashdiff/src/labels"

// Kind distinguishes the three node variants a snapshot can contain.
type Kind int

const (
	// KindRule is a build rule: a named instance of a rule class with
	// attributes and declared inputs.
	KindRule Kind = iota
	// KindSourceFile is a source file tracked by the build graph.
	KindSourceFile
	// KindGeneratedFile is a file produced by a rule.
	KindGeneratedFile
)

// String renders the kind the way it's serialized in a TargetHashString's
// "kind#" prefix (spec §4.7 step 11 / §6).
func (k Kind) String() string {
	switch k {
	case KindRule:
		return "Rule"
	case KindSourceFile:
		return "SourceFile"
	case KindGeneratedFile:
		return "GeneratedFile"
	default:
		return "Unknown"
	}
}

// Attribute is one (name, serialized-bytes) pair on a Rule. Value is kept
// as the exact bytes the snapshot carried; spec §9 requires the canonical
// encoding be preserved bit-for-bit, so it is never re-encoded here.
type Attribute struct {
	Name  string
	Value []byte
}

// Rule is a build rule node (spec §3).
type Rule struct {
	Name                   labels.Label
	RuleClass              string
	SkylarkEnvironmentHash string // empty means "not present"
	Attributes             []Attribute
	RuleInputs             []labels.Label
	ConfiguredRuleInputs   []labels.Label // only populated in configured-query snapshots
}

// SourceFile is a source file node (spec §3).
type SourceFile struct {
	Name        labels.Label
	Subincludes []labels.Label
}

// GeneratedFile is a file produced by a rule (spec §3).
type GeneratedFile struct {
	Name           labels.Label
	GeneratingRule labels.Label
}

// Node is the tagged union of the three node kinds a snapshot can decode
// to. Exactly one of Rule, Source, Generated is non-nil.
type Node struct {
	Rule      *Rule
	Source    *SourceFile
	Generated *GeneratedFile
}

// Kind reports which variant this node holds.
func (n Node) Kind() Kind {
	switch {
	case n.Rule != nil:
		return KindRule
	case n.Generated != nil:
		return KindGeneratedFile
	default:
		return KindSourceFile
	}
}

// Name returns the node's label regardless of which variant it is.
func (n Node) Name() labels.Label {
	switch {
	case n.Rule != nil:
		return n.Rule.Name
	case n.Generated != nil:
		return n.Generated.Name
	case n.Source != nil:
		return n.Source.Name
	default:
		return ""
	}
}
