// Package sourcehash implements the source-file hasher from spec §4.3:
// given a label, produce a digest of the corresponding file's bytes (or
// an override content-hash), mixed with a seed, honoring the
// modified-files filter and fine-grained-external-repo gating.
//
// Modelled on please's PathHasher (src/fs/hash.go): read-if-exists,
// feed a domain-separator byte either way. This version keeps no cache of
// its own (every Digest call recomputes; callers such as the engine and
// rulehash keep the label-keyed results), drops please's xattr-backed
// persistent cache (spec §3: "no persistent state is retained" across
// invocations) and its symlink/directory handling (a build-graph
// SourceFile node always names a single file).
package sourcehash

import (
	"os"

	"github.com/thought-machine/hashdiff/src/digest"
	"github.com/thought-machine/hashdiff/src/externalrepo"
	"github.com/thought-machine/hashdiff/src/labels"
)

// existsByte / absentByte are the domain-separator bytes fed when a
// resolved path does or doesn't exist on disk (spec §4.3 steps 4-5).
var (
	existsByte = []byte{0x01}
	absentByte = []byte{0x00}
)

// Hasher computes digests for individual source labels (spec §4.3).
type Hasher struct {
	resolver         *externalrepo.Resolver
	contentHashes     map[string]string // workspace-relative path -> opaque hex digest
	fineGrainedRepos  map[string]bool
	modifiedFiles     map[string]bool // empty means "no filter"
	workspaceRoot     string
}

// New constructs a Hasher. contentHashes and modifiedFiles may be nil/empty.
func New(workspaceRoot string, resolver *externalrepo.Resolver, contentHashes map[string]string, fineGrainedRepos map[string]bool, modifiedFiles map[string]bool) *Hasher {
	return &Hasher{
		resolver:         resolver,
		contentHashes:    contentHashes,
		fineGrainedRepos: fineGrainedRepos,
		modifiedFiles:    modifiedFiles,
		workspaceRoot:    workspaceRoot,
	}
}

// resolved is the outcome of resolving a label to a file, or the
// short-circuit "treat this as the empty digest" outcome.
type resolved struct {
	absPath string
	relPath string
	empty   bool // true if this label must just yield digest.Empty
}

func (h *Hasher) resolve(label labels.Label) resolved {
	// spec §4.3 step 1: this check happens before any path resolution at all.
	if labels.IsExternal(label) {
		if repo, _, ok := labels.SplitExternal(label); ok && endsWithPlus(labels.NormalizeRepo(repo)) {
			return resolved{empty: true}
		}
	}
	if labels.IsMainRepo(label) {
		abs, rel, ok := labels.ResolveMainRepo(label, h.workspaceRoot)
		if !ok {
			return resolved{empty: true}
		}
		return resolved{absPath: abs, relPath: rel}
	}
	if labels.IsExternal(label) {
		repo, relpath, ok := labels.SplitExternal(label)
		if !ok {
			return resolved{empty: true}
		}
		normalized := labels.NormalizeRepo(repo)
		if !h.fineGrainedRepos[normalized] {
			return resolved{empty: true}
		}
		repoRoot := h.resolver.Resolve(normalized)
		return resolved{
			absPath: joinPath(repoRoot, relpath),
			relPath: "external/" + normalized + "/" + relpath,
		}
	}
	return resolved{empty: true}
}

func endsWithPlus(s string) bool {
	return len(s) > 0 && s[len(s)-1] == '+'
}

func joinPath(root, rel string) string {
	if root == "" {
		return rel
	}
	return root + "/" + rel
}

// Digest implements spec §4.3's digest operation.
func (h *Hasher) Digest(label labels.Label, seed []byte) [digest.Size]byte {
	r := h.resolve(label)
	if r.empty {
		return digest.Empty
	}
	b := digest.New()
	if override, present := h.contentHashes[r.relPath]; present {
		b.FeedString(override).Feed(existsByte).Feed(seed).FeedString(label)
		return b.Finalize()
	}
	info, err := os.Stat(r.absPath)
	if err == nil && info.Mode().IsRegular() {
		if len(h.modifiedFiles) == 0 || h.modifiedFiles[r.relPath] {
			if data, readErr := os.ReadFile(r.absPath); readErr == nil {
				b.Feed(data)
			}
		}
		b.Feed(existsByte)
	} else {
		b.Feed(absentByte)
	}
	b.Feed(seed).FeedString(label)
	return b.Finalize()
}

// SoftDigest implements spec §4.3's soft_digest operation: used by the
// rule hasher to resolve inputs that aren't nodes known to the graph.
// Returns ok=false for external labels or main-repo labels that don't
// name an existing regular file.
func (h *Hasher) SoftDigest(label labels.Label, seed []byte) (digestOut [digest.Size]byte, ok bool) {
	if labels.IsExternal(label) {
		return digest.Empty, false
	}
	abs, _, resolvedOk := labels.ResolveMainRepo(label, h.workspaceRoot)
	if !resolvedOk {
		return digest.Empty, false
	}
	info, err := os.Stat(abs)
	if err != nil || !info.Mode().IsRegular() {
		return digest.Empty, false
	}
	return h.Digest(label, seed), true
}
