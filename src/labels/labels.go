// Package labels implements the pure, I/O-free label grammar from spec
// §3/§4.1: classifying a build-graph label as main-repo or external-repo,
// normalizing external repo names, and rewriting labels between the
// "configured" and "unconfigured" query modes.
//
// The grammar itself is modelled on please's own label type
// (src/core/build_label.go's BuildLabel and ParseBuildLabelParts) and its
// subrepo handling (src/core/subrepo.go), generalized from please's
// internal BuildLabel struct to the plain-string Label this spec uses,
// since the upstream graph snapshot hands labels over as strings rather
// than a pre-parsed struct.
package labels

import "strings"

// Label is an opaque build-graph node identifier, e.g. "//a/b:c" or
// "@@repo+//a:b".
type Label = string

// IsExternal reports whether label refers to a node outside the main repo.
func IsExternal(label Label) bool {
	return strings.HasPrefix(label, "@")
}

// SplitExternal strips the external-repo prefix from label and returns the
// repo name and the filesystem-relative path implied by the remainder.
// ok is false if label is not an external-repo label.
func SplitExternal(label Label) (repo, relpath string, ok bool) {
	if !IsExternal(label) {
		return "", "", false
	}
	rest := strings.TrimLeft(label, "@")
	idx := strings.Index(rest, "//")
	if idx == -1 {
		return "", "", false
	}
	repo = rest[:idx]
	remainder := rest[idx+2:]
	if strings.HasPrefix(remainder, ":") {
		remainder = remainder[1:]
	} else {
		remainder = strings.ReplaceAll(remainder, ":", "/")
	}
	return repo, remainder, true
}

// NormalizeRepo strips all leading '@' characters from repo, retaining a
// trailing '+' (the canonical-form marker) if present.
func NormalizeRepo(repo string) string {
	return strings.TrimLeft(repo, "@")
}

// IsMainRepo reports whether label is one of the main-repo forms:
// "//...", "@//..." or "@@//...".
func IsMainRepo(label Label) bool {
	for _, prefix := range []string{"//", "@//", "@@//"} {
		if strings.HasPrefix(label, prefix) {
			return true
		}
	}
	return false
}

// ResolveMainRepo resolves a main-repo label to an absolute path and a
// workspace-relative path, joined against workspaceRoot. ok is false if
// label is not a main-repo label.
func ResolveMainRepo(label Label, workspaceRoot string) (absPath, relPath string, ok bool) {
	stripped, ok := stripMainRepoPrefix(label)
	if !ok {
		return "", "", false
	}
	if strings.HasPrefix(stripped, ":") {
		stripped = stripped[1:]
	} else {
		stripped = strings.ReplaceAll(stripped, ":", "/")
	}
	return joinPath(workspaceRoot, stripped), stripped, true
}

func stripMainRepoPrefix(label Label) (string, bool) {
	for _, prefix := range []string{"@@//", "@//", "//"} {
		if strings.HasPrefix(label, prefix) {
			return label[len(prefix):], true
		}
	}
	return "", false
}

func joinPath(root, rel string) string {
	if root == "" {
		return rel
	}
	return strings.TrimRight(root, "/") + "/" + rel
}

// TransformRuleInput rewrites a rule-input label when reconciling the
// outputs of the "configured" vs. unconfigured graph query modes (spec
// §4.1). Labels already referring to the main repo are returned
// unchanged. External labels whose normalized repo is in
// fineGrainedRepos are rewritten into canonical "@@repo+//..." form;
// everything else collapses to the legacy "//external:<repo>" form that
// unconfigured queries produce.
func TransformRuleInput(label Label, fineGrainedRepos map[string]bool) Label {
	if IsMainRepo(label) {
		return label
	}
	rest := strings.TrimLeft(label, "@")
	idx := strings.Index(rest, "//")
	if idx == -1 {
		return label
	}
	repo := rest[:idx]
	remainder := rest[idx+2:] // raw "pkg:target" form, unconverted - this stays a label, not a path
	normalized := NormalizeRepo(repo)
	if fineGrainedRepos[normalized] {
		canonical := repo
		if !strings.HasSuffix(canonical, "+") {
			canonical += "+"
		}
		return "@@" + canonical + "//" + remainder
	}
	return "//external:" + repo
}
