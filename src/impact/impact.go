// Package impact implements the impact analyzer from spec §4.8: set
// difference over two keyed digest maps, direct/indirect classification,
// and shortest-distance labelling through a dependency-edge graph.
//
// Grounded on please's reverse-dependency walks in src/query/affected_targets.go
// and src/query/reverse_deps.go, which answer "what does this change
// affect" by walking a build graph from changed nodes outward; this
// generalizes that boolean reachability into distance-labelled
// classification with its own visiting-set cycle detector, the same
// pattern rulehash.Hasher uses for rule-digest recursion.
package impact

import (
	"sort"
	"strings"

	"github.com/thought-machine/hashdiff/src/herrors"
	"github.com/thought-machine/hashdiff/src/labels"
	"github.com/thought-machine/hashdiff/src/targethash"
)

// Distance is a label's classification result when dep edges are
// available: the minimum number of dep-graph hops to a directly
// impacted ancestor, and the minimum number of package-boundary
// crossings on any such walk. The two minima are taken independently, so
// they need not come from the same path.
type Distance struct {
	Label           labels.Label
	TargetDistance  int
	PackageDistance int
}

func typeRank(kind string) int {
	switch kind {
	case "SourceFile":
		return 0
	case "GeneratedFile":
		return 1
	case "Rule":
		return 2
	case "":
		return 4
	default:
		return 3
	}
}

// Impacted returns the sorted, deduplicated set of labels whose parsed
// hash string differs between starting and final (spec §4.8 steps 1-3),
// filtered to targetTypes when non-empty.
func Impacted(starting, final map[labels.Label]string, targetTypes map[string]bool) ([]labels.Label, error) {
	seen := map[labels.Label]bool{}
	for label := range starting {
		seen[label] = true
	}
	for label := range final {
		seen[label] = true
	}

	type entry struct {
		label string
		kind  string
	}
	var impacted []entry
	for label := range seen {
		s, sok := starting[label]
		f, fok := final[label]
		if sok && fok && s == f {
			continue
		}
		kind := ""
		if sok {
			if h, err := targethash.Parse(s); err == nil {
				kind = h.Kind
			}
		}
		if kind == "" && fok {
			if h, err := targethash.Parse(f); err == nil {
				kind = h.Kind
			}
		}
		if len(targetTypes) > 0 {
			if kind == "" {
				return nil, &herrors.MissingTargetType{Label: label}
			}
			if !targetTypes[kind] {
				continue
			}
		}
		impacted = append(impacted, entry{label: label, kind: kind})
	}

	sort.Slice(impacted, func(i, j int) bool {
		ri, rj := typeRank(impacted[i].kind), typeRank(impacted[j].kind)
		if ri != rj {
			return ri < rj
		}
		return impacted[i].label < impacted[j].label
	})

	result := make([]labels.Label, 0, len(impacted))
	var prev string
	for i, e := range impacted {
		if i > 0 && e.label == prev {
			continue
		}
		result = append(result, e.label)
		prev = e.label
	}
	return result, nil
}

// isDirect reports whether label is directly impacted (spec §4.8 step 4).
func isDirect(label labels.Label, starting, final map[labels.Label]string) (bool, error) {
	s, sok := starting[label]
	f, fok := final[label]
	if !sok || !fok {
		return true, nil
	}
	sh, err := targethash.Parse(s)
	if err != nil {
		return true, nil
	}
	fh, err := targethash.Parse(f)
	if err != nil {
		return true, nil
	}
	if sh.Direct == "" || fh.Direct == "" {
		return true, nil
	}
	return sh.Direct != fh.Direct, nil
}

func packageOf(label labels.Label) string {
	if idx := strings.Index(label, ":"); idx != -1 {
		return label[:idx]
	}
	return label
}

// Distances computes shortest-distance classification for every label
// in impacted, per spec §4.8 steps 4-5. depEdges maps a label to its
// ordered dependency list (possibly empty); a missing entry means "no
// dep-edges data for this label".
func Distances(impacted []labels.Label, starting, final map[labels.Label]string, depEdges map[labels.Label][]labels.Label) ([]Distance, error) {
	impactedSet := make(map[labels.Label]bool, len(impacted))
	for _, l := range impacted {
		impactedSet[l] = true
	}

	memo := map[labels.Label]Distance{}
	visiting := map[labels.Label]bool{}

	var resolve func(label labels.Label) (Distance, error)
	resolve = func(label labels.Label) (Distance, error) {
		if d, ok := memo[label]; ok {
			return d, nil
		}
		if visiting[label] {
			return Distance{}, &herrors.CycleInImpactGraph{Label: label}
		}
		direct, err := isDirect(label, starting, final)
		if err != nil {
			return Distance{}, err
		}
		if direct {
			d := Distance{Label: label, TargetDistance: 0, PackageDistance: 0}
			memo[label] = d
			return d, nil
		}

		deps, ok := depEdges[label]
		if !ok {
			return Distance{}, &herrors.IndirectWithoutDepGraph{Label: label}
		}

		visiting[label] = true
		defer delete(visiting, label)

		found := false
		minTarget, minPackage := 0, 0
		for _, dep := range deps {
			if !impactedSet[dep] {
				continue
			}
			depDist, err := resolve(dep)
			if err != nil {
				return Distance{}, err
			}
			packageChanged := 0
			if packageOf(label) != packageOf(dep) {
				packageChanged = 1
			}
			target := depDist.TargetDistance + 1
			pkg := depDist.PackageDistance + packageChanged
			if !found || target < minTarget {
				minTarget = target
			}
			if !found || pkg < minPackage {
				minPackage = pkg
			}
			found = true
		}
		if !found {
			return Distance{}, &herrors.IndirectWithoutImpactedDep{Label: label}
		}
		best := Distance{Label: label, TargetDistance: minTarget, PackageDistance: minPackage}
		memo[label] = best
		return best, nil
	}

	result := make([]Distance, 0, len(impacted))
	for _, label := range impacted {
		d, err := resolve(label)
		if err != nil {
			return nil, err
		}
		result = append(result, d)
	}
	return result, nil
}
