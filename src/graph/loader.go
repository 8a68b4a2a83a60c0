package graph

import (
	"github.com/thought-machine/hashdiff/src/cli/logging"
	"github.com/thought-machine/hashdiff/src/labels"
)

var log = logging.Log

// Snapshot is the partitioned, deduplicated graph produced by Load:
// rules keyed by label, sources and generated files in the order the
// decoded stream produced them (spec §4.4 and §5's "natural order"
// requirement for rule-hasher dispatch in the engine driver).
type Snapshot struct {
	Rules     map[labels.Label]*Rule
	Sources   []*SourceFile
	Generated []*GeneratedFile
	// All, in the order nodes were accepted, for components (the engine
	// driver, step 10) that need to iterate every node once regardless
	// of kind.
	All []Node
}

// Load partitions a flat sequence of already-decoded nodes into a
// Snapshot. The first occurrence of a label wins; later duplicates are
// discarded silently (spec §4.4). If excludeExternal is set, any node
// whose label starts with '@' is dropped entirely.
func Load(nodes []Node, excludeExternal bool) *Snapshot {
	snap := &Snapshot{Rules: map[labels.Label]*Rule{}}
	seen := map[labels.Label]bool{}
	for _, n := range nodes {
		name := n.Name()
		if name == "" {
			log.Warning("skipping node with no name")
			continue
		}
		if excludeExternal && labels.IsExternal(name) {
			continue
		}
		if seen[name] {
			continue
		}
		seen[name] = true
		switch {
		case n.Rule != nil:
			snap.Rules[name] = n.Rule
			snap.All = append(snap.All, n)
		case n.Source != nil:
			snap.Sources = append(snap.Sources, n.Source)
			snap.All = append(snap.All, n)
		case n.Generated != nil:
			snap.Generated = append(snap.Generated, n.Generated)
			snap.All = append(snap.All, n)
		default:
			log.Warning("skipping node %s of unknown variant", name)
		}
	}
	return snap
}
