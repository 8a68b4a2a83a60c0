package engine

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thought-machine/hashdiff/src/graph"
	"github.com/thought-machine/hashdiff/src/herrors"
	"github.com/thought-machine/hashdiff/src/nodestream"
)

// writeFakeBazel writes an executable shell-script build tool double that
// reports outputBase from `info output_base` and replays the node stream
// in fixture for every query/cquery invocation that isn't a
// `--output=location` repo lookup.
func writeFakeBazel(t *testing.T, outputBase, fixture string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "fake-bazel")
	script := "#!/bin/sh\n" +
		"case \"$1\" in\n" +
		"  info) echo \"" + outputBase + "\" ;;\n" +
		"  query)\n" +
		"    for arg in \"$@\"; do\n" +
		"      if [ \"$arg\" = \"--output=location\" ]; then exit 0; fi\n" +
		"    done\n" +
		"    cat \"" + fixture + "\"\n" +
		"    ;;\n" +
		"  cquery) cat \"" + fixture + "\" ;;\n" +
		"esac\n"
	require.NoError(t, os.WriteFile(path, []byte(script), 0o755))
	return path
}

func writeFixture(t *testing.T, nodes []graph.Node) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "fixture.bin")
	var buf bytes.Buffer
	require.NoError(t, nodestream.Encode(&buf, nodes))
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))
	return path
}

func TestGenerateHashesEmptyGraph(t *testing.T) {
	workspace := t.TempDir()
	fixture := writeFixture(t, nil)
	bazel := writeFakeBazel(t, filepath.Join(workspace, "base"), fixture)

	result, err := GenerateHashes(context.Background(), Config{
		Workspace: workspace,
		BazelPath: bazel,
	})
	require.NoError(t, err)
	assert.Empty(t, result.Hashes)
	assert.Empty(t, result.DepEdges)
}

func TestGenerateHashesSourceFile(t *testing.T) {
	workspace := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(workspace, "a"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(workspace, "a", "x.txt"), []byte("hello"), 0o644))

	fixture := writeFixture(t, []graph.Node{
		{Source: &graph.SourceFile{Name: "//a:x.txt"}},
	})
	bazel := writeFakeBazel(t, filepath.Join(workspace, "base"), fixture)

	result, err := GenerateHashes(context.Background(), Config{
		Workspace: workspace,
		BazelPath: bazel,
	})
	require.NoError(t, err)
	require.Contains(t, result.Hashes, "//a:x.txt")
	hash := result.Hashes["//a:x.txt"]
	assert.NotEmpty(t, hash)
	assert.NotContains(t, hash, "#")
}

func TestGenerateHashesRuleWithSource(t *testing.T) {
	workspace := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(workspace, "a"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(workspace, "a", "x.txt"), []byte("hello"), 0o644))

	fixture := writeFixture(t, []graph.Node{
		{Source: &graph.SourceFile{Name: "//a:x.txt"}},
		{Rule: &graph.Rule{
			Name:       "//a:lib",
			RuleClass:  "cc_library",
			Attributes: []graph.Attribute{{Name: "srcs", Value: []byte("//a:x.txt")}},
			RuleInputs: []string{"//a:x.txt"},
		}},
	})
	bazel := writeFakeBazel(t, filepath.Join(workspace, "base"), fixture)

	result, err := GenerateHashes(context.Background(), Config{
		Workspace:         workspace,
		BazelPath:         bazel,
		IncludeTargetType: true,
	})
	require.NoError(t, err)
	require.Contains(t, result.Hashes, "//a:lib")
	assert.Contains(t, result.Hashes["//a:lib"], "Rule#")
	assert.Contains(t, result.Hashes["//a:x.txt"], "SourceFile#")
}

func TestGenerateHashesTargetTypeFilter(t *testing.T) {
	workspace := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(workspace, "a"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(workspace, "a", "x.txt"), []byte("hello"), 0o644))

	fixture := writeFixture(t, []graph.Node{
		{Source: &graph.SourceFile{Name: "//a:x.txt"}},
		{Rule: &graph.Rule{Name: "//a:lib", RuleClass: "cc_library", RuleInputs: []string{"//a:x.txt"}}},
	})
	bazel := writeFakeBazel(t, filepath.Join(workspace, "base"), fixture)

	result, err := GenerateHashes(context.Background(), Config{
		Workspace:   workspace,
		BazelPath:   bazel,
		TargetTypes: []string{"Rule"},
	})
	require.NoError(t, err)
	assert.Contains(t, result.Hashes, "//a:lib")
	assert.NotContains(t, result.Hashes, "//a:x.txt")
}

func TestGenerateHashesDepEdgesTracking(t *testing.T) {
	workspace := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(workspace, "a"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(workspace, "a", "x.txt"), []byte("hello"), 0o644))

	fixture := writeFixture(t, []graph.Node{
		{Source: &graph.SourceFile{Name: "//a:x.txt"}},
		{Rule: &graph.Rule{Name: "//a:lib", RuleClass: "cc_library", RuleInputs: []string{"//a:x.txt"}}},
		{Generated: &graph.GeneratedFile{Name: "//a:gen.txt", GeneratingRule: "//a:lib"}},
	})
	bazel := writeFakeBazel(t, filepath.Join(workspace, "base"), fixture)

	result, err := GenerateHashes(context.Background(), Config{
		Workspace:     workspace,
		BazelPath:     bazel,
		TrackDepEdges: true,
	})
	require.NoError(t, err)
	assert.Contains(t, result.DepEdges, "//a:lib")
	assert.Equal(t, []string{"//a:lib"}, result.DepEdges["//a:gen.txt"])
	assert.NotContains(t, result.DepEdges, "//a:x.txt")
}

func TestGenerateHashesFineGrainedReposMutuallyExclusive(t *testing.T) {
	workspace := t.TempDir()
	reposFile := filepath.Join(workspace, "repos.txt")
	require.NoError(t, os.WriteFile(reposFile, []byte("rules_go\n"), 0o644))

	_, err := GenerateHashes(context.Background(), Config{
		Workspace:                    workspace,
		FineGrainedExternalRepos:     []string{"rules_python"},
		FineGrainedExternalReposFile: reposFile,
	})
	require.Error(t, err)
	var want *herrors.ConfigInvalid
	assert.ErrorAs(t, err, &want)
}

func TestGenerateHashesUsesSeedFilepaths(t *testing.T) {
	workspace := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(workspace, "a"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(workspace, "a", "x.txt"), []byte("hello"), 0o644))

	seedFile := filepath.Join(workspace, "seed.txt")
	require.NoError(t, os.WriteFile(seedFile, []byte(filepath.Join(workspace, "a", "x.txt")+"\n"), 0o644))

	fixture := writeFixture(t, []graph.Node{
		{Source: &graph.SourceFile{Name: "//a:x.txt"}},
	})
	bazel := writeFakeBazel(t, filepath.Join(workspace, "base"), fixture)

	withSeed, err := GenerateHashes(context.Background(), Config{Workspace: workspace, BazelPath: bazel, SeedFilepaths: "seed.txt"})
	require.NoError(t, err)
	withoutSeed, err := GenerateHashes(context.Background(), Config{Workspace: workspace, BazelPath: bazel})
	require.NoError(t, err)
	assert.NotEqual(t, withSeed.Hashes["//a:x.txt"], withoutSeed.Hashes["//a:x.txt"])
}
