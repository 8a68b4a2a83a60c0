// Package rulehash implements the recursive rule-digest algorithm from
// spec §4.5: rule-class, attributes and environment hash, then
// transitively over declared inputs, with cycle detection.
//
// Modelled on please's cycle_detector.go (src/core/cycle_detector.go),
// which walks a build graph with a visiting set keyed by label and a
// recursion stack for diagnostics; that version calls log.Fatalf on a
// cycle. This one returns a herrors.CircularDependency along the current
// stack instead, since spec §7 requires in-band error propagation rather
// than process termination.
package rulehash

import (
	"strings"

	"github.com/thought-machine/hashdiff/src/cli/logging"
	"github.com/thought-machine/hashdiff/src/digest"
	"github.com/thought-machine/hashdiff/src/graph"
	"github.com/thought-machine/hashdiff/src/herrors"
	"github.com/thought-machine/hashdiff/src/labels"
	"github.com/thought-machine/hashdiff/src/sourcehash"
)

var log = logging.Log

// builtinIgnoredAttr is unioned into every Hasher's ignored-attribute set
// regardless of what the caller supplies (spec §4.5 step 3).
const builtinIgnoredAttr = "generator_location"

// TargetDigest is a computed rule or generated-file digest (spec §3).
// Deps is nil when dep-edge tracking is disabled, non-nil (possibly
// empty) when it's enabled.
type TargetDigest struct {
	Overall [digest.Size]byte
	Direct  [digest.Size]byte
	Deps    []labels.Label
}

// Hasher computes TargetDigests for rules and generated files (spec
// §4.5), memoizing by label and detecting cycles among rule inputs.
type Hasher struct {
	rules            map[labels.Label]*graph.Rule
	sourceDigests    map[labels.Label][digest.Size]byte
	sourceHasher     *sourcehash.Hasher
	fineGrainedRepos map[string]bool
	ignoredAttrs     map[string]bool
	configured       bool
	trackDepEdges    bool
	seedHash         []byte

	memo     map[labels.Label]TargetDigest
	visiting map[labels.Label]bool
	stack    []labels.Label
}

// New constructs a Hasher.
//
// rules is the graph's rule set, keyed by label. sourceDigests is the
// label-keyed map of already-computed per-source digests (spec §4.6);
// it is mutated in place as soft-digest fallbacks are resolved and
// cached (spec §4.5 step 6's "cache the adjusted value" instruction),
// so callers should expect its contents to grow during hashing.
// sourceHasher backs the soft_digest fallback for inputs that name
// neither a known rule nor an already-computed source. ignoredAttrs is
// unioned with the built-in generator_location attribute. configured
// selects the configured- vs unconfigured-mode input list (spec §4.5
// step 5). seedHash is the run's seed (spec §4.7 step 4).
func New(
	rules map[labels.Label]*graph.Rule,
	sourceDigests map[labels.Label][digest.Size]byte,
	sourceHasher *sourcehash.Hasher,
	fineGrainedRepos map[string]bool,
	ignoredAttrs map[string]bool,
	configured bool,
	trackDepEdges bool,
	seedHash []byte,
) *Hasher {
	merged := map[string]bool{builtinIgnoredAttr: true}
	for k := range ignoredAttrs {
		merged[k] = true
	}
	if sourceDigests == nil {
		sourceDigests = map[labels.Label][digest.Size]byte{}
	}
	return &Hasher{
		rules:            rules,
		sourceDigests:    sourceDigests,
		sourceHasher:     sourceHasher,
		fineGrainedRepos: fineGrainedRepos,
		ignoredAttrs:     merged,
		configured:       configured,
		trackDepEdges:    trackDepEdges,
		seedHash:         seedHash,
		memo:             map[labels.Label]TargetDigest{},
		visiting:         map[labels.Label]bool{},
	}
}

// RuleDigest computes (or returns the memoized) TargetDigest for the
// rule named by label, per spec §4.5.
func (h *Hasher) RuleDigest(label labels.Label) (TargetDigest, error) {
	if d, ok := h.memo[label]; ok {
		return d, nil
	}
	if h.visiting[label] {
		path := make([]string, len(h.stack)+1)
		copy(path, h.stack)
		path[len(h.stack)] = label
		return TargetDigest{}, &herrors.CircularDependency{Path: path}
	}
	rule := h.rules[label]
	if rule == nil {
		return TargetDigest{}, &herrors.MissingGeneratingRule{Label: label}
	}

	h.visiting[label] = true
	h.stack = append(h.stack, label)
	defer func() {
		delete(h.visiting, label)
		h.stack = h.stack[:len(h.stack)-1]
	}()

	attrSig := digest.New()
	attrSig.FeedString(rule.RuleClass).FeedString(rule.Name)
	if rule.SkylarkEnvironmentHash != "" {
		attrSig.FeedString(rule.SkylarkEnvironmentHash)
	}
	for _, attr := range rule.Attributes {
		if h.ignoredAttrs[attr.Name] {
			continue
		}
		attrSig.Feed(attr.Value)
	}
	ruleDigest := attrSig.Finalize()

	direct := digest.New()
	direct.Feed(ruleDigest[:])
	direct.Feed(h.seedHash)

	overall := digest.New()
	var deps []labels.Label

	for _, input := range h.effectiveInputs(rule) {
		direct.FeedString(input)

		if _, isRule := h.rules[input]; isRule && input != label {
			depDigest, err := h.RuleDigest(input)
			if err != nil {
				return TargetDigest{}, err
			}
			overall.Feed(depDigest.Overall[:])
			if h.trackDepEdges {
				deps = append(deps, input)
			}
			continue
		}

		if src, ok := h.sourceDigests[input]; ok {
			direct.Feed(src[:])
			continue
		}

		if soft, ok := h.sourceHasher.SoftDigest(input, nil); ok {
			adjusted := soft
			if isCanonicalExternal(input) {
				mix := digest.New()
				mix.Feed(soft[:])
				mix.Feed(h.seedHash)
				adjusted = mix.Finalize()
			}
			h.sourceDigests[input] = adjusted
			direct.Feed(adjusted[:])
			continue
		}

		log.Warning("rule %s: unresolvable input %s", label, input)
	}

	directBytes := direct.Finalize()
	overall.Feed(directBytes[:])
	overallBytes := overall.Finalize()

	result := TargetDigest{Overall: overallBytes, Direct: directBytes}
	if h.trackDepEdges {
		result.Deps = deps
		if result.Deps == nil {
			result.Deps = []labels.Label{}
		}
	}
	h.memo[label] = result
	return result, nil
}

// GeneratedDigest computes the TargetDigest for a generated file: the
// digest of its generating rule, with Deps overridden to a single-entry
// list naming that rule when dep-edge tracking is on (spec §4.5
// "Generated files").
func (h *Hasher) GeneratedDigest(gf *graph.GeneratedFile) (TargetDigest, error) {
	if _, ok := h.rules[gf.GeneratingRule]; !ok {
		return TargetDigest{}, &herrors.MissingGeneratingRule{Label: gf.GeneratingRule}
	}
	d, err := h.RuleDigest(gf.GeneratingRule)
	if err != nil {
		return TargetDigest{}, err
	}
	if h.trackDepEdges {
		d.Deps = []labels.Label{gf.GeneratingRule}
	}
	return d, nil
}

// effectiveInputs computes a rule's input list per spec §4.5 step 5.
func (h *Hasher) effectiveInputs(rule *graph.Rule) []labels.Label {
	if !h.configured {
		return rule.RuleInputs
	}
	seen := map[labels.Label]bool{}
	result := make([]labels.Label, 0, len(rule.ConfiguredRuleInputs)+len(rule.RuleInputs))
	for _, l := range rule.ConfiguredRuleInputs {
		if seen[l] {
			continue
		}
		seen[l] = true
		result = append(result, l)
	}
	for _, raw := range rule.RuleInputs {
		transformed := labels.TransformRuleInput(raw, h.fineGrainedRepos)
		if seen[transformed] {
			continue
		}
		seen[transformed] = true
		result = append(result, transformed)
	}
	return result
}

func isCanonicalExternal(label labels.Label) bool {
	return strings.HasPrefix(label, "@@") && strings.Contains(label, "+")
}
