// Package engine implements the hash engine driver from spec §4.7: load
// configuration and the build graph, compute every node's digest, and
// emit the final hash map plus dependency edges.
//
// Modelled on please's src/plz top-level orchestration (load config,
// load the graph, run the computation, emit a result) and on
// original_source/crates/core/src/hash.rs's generate_hashes, which this
// package follows step for step: fine-grained-repo loading, content-hash
// and seed-hash loading, the modified-files filter, querying the build
// tool for its output base, loading the graph, computing per-source
// digests, then dispatching rules and generated files to the rule
// hasher in the graph's natural order.
package engine

import (
	"bufio"
	"context"
	"encoding/hex"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/thought-machine/hashdiff/src/bazelproc"
	"github.com/thought-machine/hashdiff/src/cmap"
	"github.com/thought-machine/hashdiff/src/digest"
	"github.com/thought-machine/hashdiff/src/externalrepo"
	"github.com/thought-machine/hashdiff/src/graph"
	"github.com/thought-machine/hashdiff/src/herrors"
	"github.com/thought-machine/hashdiff/src/labels"
	"github.com/thought-machine/hashdiff/src/rulehash"
	"github.com/thought-machine/hashdiff/src/sourcehash"
	"github.com/thought-machine/hashdiff/src/targethash"
)

// builtinIgnoredAttr mirrors rulehash's own union; kept here too so the
// engine's own bookkeeping (none currently) could inspect the merged set
// if it ever needs to. rulehash.New unions it again, so passing it twice
// is harmless.
const builtinIgnoredAttr = "generator_location"

// Config mirrors the CLI-facing options enumerated in spec §4.7/§6.
type Config struct {
	Workspace      string
	BazelPath      string
	StartupOptions []string
	CommandOptions []string
	CqueryOptions  []string
	KeepGoing      bool

	UseCquery              bool
	ExcludeExternalTargets bool
	IncludeTargetType      bool
	TrackDepEdges          bool

	IgnoredAttrs []string

	FineGrainedExternalRepos     []string
	FineGrainedExternalReposFile string

	ContentHashPath   string
	SeedFilepaths     string
	ModifiedFilepaths string

	TargetTypes []string
}

// Result is the outcome of GenerateHashes: the rendered hash map and,
// when dep-edge tracking is on, the dependency-edges map (spec §3).
type Result struct {
	Hashes   map[labels.Label]string
	DepEdges map[labels.Label][]labels.Label
}

// GenerateHashes runs the full pipeline described in spec §4.7.
func GenerateHashes(ctx context.Context, cfg Config) (*Result, error) {
	fineGrainedRepos, err := loadFineGrainedRepos(cfg.FineGrainedExternalRepos, resolvePath(cfg.Workspace, cfg.FineGrainedExternalReposFile))
	if err != nil {
		return nil, err
	}
	fineGrainedSet := map[string]bool{}
	for _, r := range fineGrainedRepos {
		fineGrainedSet[labels.NormalizeRepo(r)] = true
	}

	var targetTypes map[string]bool
	if len(cfg.TargetTypes) > 0 {
		targetTypes = map[string]bool{}
		for _, t := range cfg.TargetTypes {
			targetTypes[t] = true
		}
	}

	contentHashes, err := loadContentHashes(resolvePath(cfg.Workspace, cfg.ContentHashPath))
	if err != nil {
		return nil, err
	}

	seedHash, err := loadSeedHash(resolvePath(cfg.Workspace, cfg.SeedFilepaths))
	if err != nil {
		return nil, err
	}

	modifiedFiles, err := loadPathSet(resolvePath(cfg.Workspace, cfg.ModifiedFilepaths))
	if err != nil {
		return nil, err
	}

	ignoredAttrs := map[string]bool{builtinIgnoredAttr: true}
	for _, a := range cfg.IgnoredAttrs {
		ignoredAttrs[a] = true
	}

	collab := bazelproc.New(bazelproc.Options{
		Workspace:      cfg.Workspace,
		BazelPath:      cfg.BazelPath,
		StartupOptions: cfg.StartupOptions,
		CommandOptions: cfg.CommandOptions,
		CqueryOptions:  cfg.CqueryOptions,
		KeepGoing:      cfg.KeepGoing,
	})

	outputBase, err := collab.OutputBase(ctx)
	if err != nil {
		return nil, err
	}

	resolver := externalrepo.New(outputBase, &collaboratorLocator{ctx: ctx, collab: collab})

	nodes, err := loadGraphNodes(ctx, collab, cfg.UseCquery, cfg.ExcludeExternalTargets, fineGrainedRepos)
	if err != nil {
		return nil, err
	}
	snapshot := graph.Load(nodes, cfg.ExcludeExternalTargets)

	sourceHasher := sourcehash.New(cfg.Workspace, resolver, contentHashes, fineGrainedSet, modifiedFiles)

	sourceDigests, err := computeSourceDigests(ctx, sourceHasher, snapshot.Sources)
	if err != nil {
		return nil, err
	}

	ruleHasher := rulehash.New(snapshot.Rules, sourceDigests, sourceHasher, fineGrainedSet, ignoredAttrs, cfg.UseCquery, cfg.TrackDepEdges, seedHash)

	return computeResult(snapshot, sourceDigests, seedHash, ruleHasher, targetTypes, cfg.IncludeTargetType)
}

// collaboratorLocator adapts Collaborator's context-taking method to the
// externalrepo.Locator interface, which predates this module's context
// plumbing and takes none.
type collaboratorLocator struct {
	ctx    context.Context
	collab *bazelproc.Collaborator
}

func (l *collaboratorLocator) LocateRepo(repo string) (string, error) {
	return l.collab.LocateExternalRepo(l.ctx, repo)
}

func loadGraphNodes(ctx context.Context, collab *bazelproc.Collaborator, useCquery, excludeExternal bool, fineGrainedRepos []string) ([]graph.Node, error) {
	if useCquery {
		nodes, err := collab.CQuery(ctx, "deps(//...:all-targets)")
		if err != nil {
			return nil, err
		}
		if !excludeExternal {
			external, err := collab.Query(ctx, buildQueryExpression([]string{"//external:all-targets"}))
			if err != nil {
				return nil, err
			}
			nodes = append(nodes, external...)
		}
		return nodes, nil
	}

	patterns := []string{"//...:all-targets"}
	if !excludeExternal {
		patterns = append(patterns, "//external:all-targets")
	}
	for _, repo := range fineGrainedRepos {
		patterns = append(patterns, repo+"//...:all-targets")
	}
	return collab.Query(ctx, buildQueryExpression(patterns))
}

func buildQueryExpression(patterns []string) string {
	quoted := make([]string, len(patterns))
	for i, p := range patterns {
		quoted[i] = "'" + p + "'"
	}
	return strings.Join(quoted, " + ")
}

// computeSourceDigests computes every source file's digest (spec §4.6),
// fanning the reads out across goroutines (spec §5 permits this since
// the result is sorted before it's emitted) and collecting them through
// a sharded map before materializing a plain, deterministic result.
func computeSourceDigests(ctx context.Context, hasher *sourcehash.Hasher, sources []*graph.SourceFile) (map[labels.Label][digest.Size]byte, error) {
	collected := cmap.New[labels.Label, [digest.Size]byte](cmap.DefaultShardCount, cmap.StringHasher)
	g, _ := errgroup.WithContext(ctx)
	for _, s := range sources {
		s := s
		g.Go(func() error {
			collected.Set(s.Name, hasher.Digest(s.Name, perSourceSeed(s)))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	result := make(map[labels.Label][digest.Size]byte, len(sources))
	for _, s := range sources {
		d, _ := collected.Get(s.Name)
		result[s.Name] = d
	}
	return result, nil
}

// perSourceSeed computes the per-source seed from spec §4.6: the
// source's own name mixed with its subincludes, in declaration order.
func perSourceSeed(s *graph.SourceFile) []byte {
	b := digest.New()
	b.FeedString(s.Name)
	for _, sub := range s.Subincludes {
		b.FeedString(sub)
	}
	d := b.Finalize()
	return d[:]
}

// computeResult dispatches every node to its digest computation in the
// snapshot's natural order (spec §4.7 step 10), renders each result into
// its TargetHashString form, and applies the target-type filter.
func computeResult(snapshot *graph.Snapshot, sourceDigests map[labels.Label][digest.Size]byte, seedHash []byte, ruleHasher *rulehash.Hasher, targetTypes map[string]bool, includeKind bool) (*Result, error) {
	hashes := map[labels.Label]string{}
	depEdges := map[labels.Label][]labels.Label{}

	emit := func(label labels.Label, kind string, overall, direct [digest.Size]byte, deps []labels.Label, hasDeps bool) {
		if targetTypes != nil && !targetTypes[kind] {
			return
		}
		hashes[label] = renderHash(kind, overall, direct, includeKind)
		if hasDeps {
			depEdges[label] = deps
		}
	}

	for _, node := range snapshot.All {
		switch {
		case node.Rule != nil:
			d, err := ruleHasher.RuleDigest(node.Rule.Name)
			if err != nil {
				return nil, err
			}
			emit(node.Rule.Name, "Rule", d.Overall, d.Direct, d.Deps, d.Deps != nil)
		case node.Generated != nil:
			d, err := ruleHasher.GeneratedDigest(node.Generated)
			if err != nil {
				return nil, err
			}
			emit(node.Generated.Name, "GeneratedFile", d.Overall, d.Direct, d.Deps, d.Deps != nil)
		case node.Source != nil:
			src := sourceDigests[node.Source.Name]
			b := digest.New()
			b.Feed(src[:])
			b.Feed(seedHash)
			final := b.Finalize()
			emit(node.Source.Name, "SourceFile", final, final, nil, false)
		}
	}

	return &Result{Hashes: hashes, DepEdges: depEdges}, nil
}

func renderHash(kind string, overall, direct [digest.Size]byte, includeKind bool) string {
	h := targethash.Hash{Overall: hex.EncodeToString(overall[:]), Direct: hex.EncodeToString(direct[:])}
	if includeKind {
		h.Kind = kind
	}
	return h.Render()
}

func loadFineGrainedRepos(cliValues []string, file string) ([]string, error) {
	if file == "" {
		return cliValues, nil
	}
	if len(cliValues) > 0 {
		return nil, &herrors.ConfigInvalid{Message: "fineGrainedHashExternalRepos and fineGrainedHashExternalReposFile are mutually exclusive"}
	}
	return readLines(file)
}

func loadContentHashes(path string) (map[string]string, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &herrors.IoError{Path: path, Err: err}
	}
	var m map[string]string
	if jsonErr := json.Unmarshal(data, &m); jsonErr != nil {
		return nil, &herrors.ConfigInvalid{Message: "content hash file " + path + " is not valid JSON: " + jsonErr.Error()}
	}
	return m, nil
}

func loadSeedHash(path string) ([]byte, error) {
	if path == "" {
		return nil, nil
	}
	lines, err := readLines(path)
	if err != nil {
		return nil, err
	}
	b := digest.New()
	for _, line := range lines {
		data, readErr := os.ReadFile(line)
		if readErr != nil {
			return nil, &herrors.IoError{Path: line, Err: readErr}
		}
		b.Feed(data)
	}
	d := b.Finalize()
	return d[:], nil
}

func loadPathSet(path string) (map[string]bool, error) {
	if path == "" {
		return nil, nil
	}
	lines, err := readLines(path)
	if err != nil {
		return nil, err
	}
	set := make(map[string]bool, len(lines))
	for _, l := range lines {
		set[l] = true
	}
	return set, nil
}

func readLines(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, &herrors.IoError{Path: path, Err: err}
	}
	defer f.Close()

	var out []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		out = append(out, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, &herrors.IoError{Path: path, Err: err}
	}
	return out, nil
}

func resolvePath(workspace, path string) string {
	if path == "" {
		return ""
	}
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(workspace, path)
}
