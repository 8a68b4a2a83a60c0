// Command hashdiff computes content-addressed digests for every node in
// a build graph and reports which targets are impacted by a change
// between two such digest snapshots (spec §6).
//
// Wired the way please's own src/please.go wires its subcommand tree: a
// single flags-tagged options struct parsed once, dispatched on the
// active subcommand's name.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/dustin/go-humanize"
	"go.uber.org/automaxprocs/maxprocs"

	"github.com/thought-machine/hashdiff/src/cli"
	"github.com/thought-machine/hashdiff/src/cli/logging"
	"github.com/thought-machine/hashdiff/src/engine"
	"github.com/thought-machine/hashdiff/src/impact"
	"github.com/thought-machine/hashdiff/src/labels"
)

var log = logging.Log

var opts struct {
	Verbosity int `short:"v" long:"verbosity" default:"1" description:"Verbosity of output (0-4, higher is more verbose)"`

	GenerateHashes struct {
		Workspace string `long:"workspacePath" required:"true" description:"Path to the build tool workspace"`
		Args      struct {
			Output string `positional-arg-name:"output" description:"File to write the hash map to (stdout if omitted)"`
		} `positional-args:"true"`
		BazelPath                    string             `long:"bazelPath" description:"Path to the build tool binary (defaults to 'bazel' on PATH)"`
		BazelStartupOptions          cli.ShellSplitList `short:"so" long:"bazelStartupOptions" description:"Startup options passed to the build tool (repeatable, shell-split)"`
		BazelCommandOptions          cli.ShellSplitList `short:"co" long:"bazelCommandOptions" description:"Command options passed to query/cquery (repeatable, shell-split)"`
		CqueryCommandOptions         cli.ShellSplitList `long:"cqueryCommandOptions" description:"Extra options passed only to cquery invocations (repeatable, shell-split)"`
		UseCquery                    bool               `long:"useCquery" description:"Load the graph with cquery instead of query"`
		KeepGoing                    bool               `long:"keep_going" description:"Tolerate per-target query failures" default:"true"`
		IncludeTargetType            bool               `long:"includeTargetType" description:"Prefix each hash with its node kind"`
		ContentHashPath              string             `long:"contentHashPath" description:"JSON file overriding source digests by workspace-relative path"`
		IgnoredRuleHashingAttributes string             `long:"ignoredRuleHashingAttributes" description:"Comma-separated attribute names excluded from rule digests"`
		ExcludeExternalTargets       bool               `long:"excludeExternalTargets" description:"Drop @-prefixed external targets from the graph entirely"`
		FineGrainedHashExternalRepos string             `long:"fineGrainedHashExternalRepos" description:"Comma-separated repos hashed at file granularity instead of treated as opaque"`
		FineGrainedHashExternalReposFile string         `long:"fineGrainedHashExternalReposFile" description:"File listing fine-grained repos, one per line (mutually exclusive with the comma-separated form)"`
		SeedFilepaths                string             `short:"s" long:"seed-filepaths" description:"File listing extra files whose bytes are mixed into every digest"`
		ModifiedFilepaths            string             `short:"m" long:"modified-filepaths" description:"File restricting which source files are actually read"`
		TargetType                   string             `short:"t" long:"targetType" description:"Comma-separated node kinds to keep (Rule,GeneratedFile,SourceFile)"`
		DepEdgesFile                 string             `short:"d" long:"depEdgesFile" description:"File to write the dependency-edges map to"`
	} `command:"generate-hashes" description:"Computes a content-addressed digest for every node in the build graph"`

	GetImpactedTargets struct {
		StartingHashes string `short:"sh" long:"startingHashes" required:"true" description:"Hash map JSON from the starting revision"`
		FinalHashes    string `short:"fh" long:"finalHashes" required:"true" description:"Hash map JSON from the final revision"`
		DepEdgesFile   string `short:"d" long:"depEdgesFile" description:"Dependency-edges JSON; enables targetDistance/packageDistance output"`
		TargetType     string `short:"tt" long:"targetType" description:"Comma-separated node kinds to keep (Rule,GeneratedFile,SourceFile)"`
		Output         string `short:"o" long:"output" description:"File to write the impacted-target list to (stdout if omitted)"`
	} `command:"get-impacted-targets" description:"Computes the set of targets impacted between two hash-map snapshots"`
}

func main() {
	parser := cli.ParseFlagsOrDie("hashdiff", &opts, os.Args)

	logging.Init(verbosityToLevel(opts.Verbosity))
	undo, err := maxprocs.Set(maxprocs.Logger(log.Debug))
	defer undo()
	if err != nil {
		log.Warning("failed to set GOMAXPROCS: %s", err)
	}

	if parser.Active == nil {
		fmt.Fprintln(os.Stderr, "No subcommand given; run with --help for usage.")
		os.Exit(1)
	}

	var runErr error
	switch parser.Active.Name {
	case "generate-hashes":
		runErr = runGenerateHashes()
	case "get-impacted-targets":
		runErr = runGetImpactedTargets()
	}
	if runErr != nil {
		log.Error("%s", runErr)
		os.Exit(1)
	}
}

func verbosityToLevel(v int) logging.Level {
	switch {
	case v <= 0:
		return logging.ERROR
	case v == 1:
		return logging.WARNING
	case v == 2:
		return logging.NOTICE
	case v == 3:
		return logging.INFO
	default:
		return logging.DEBUG
	}
}

func runGenerateHashes() error {
	o := opts.GenerateHashes
	cfg := engine.Config{
		Workspace:                    o.Workspace,
		BazelPath:                    o.BazelPath,
		StartupOptions:               o.BazelStartupOptions,
		CommandOptions:               o.BazelCommandOptions,
		CqueryOptions:                o.CqueryCommandOptions,
		KeepGoing:                    o.KeepGoing,
		UseCquery:                    o.UseCquery,
		ExcludeExternalTargets:       o.ExcludeExternalTargets,
		IncludeTargetType:            o.IncludeTargetType,
		TrackDepEdges:                o.DepEdgesFile != "",
		IgnoredAttrs:                 splitCSV(o.IgnoredRuleHashingAttributes),
		FineGrainedExternalRepos:     splitCSV(o.FineGrainedHashExternalRepos),
		FineGrainedExternalReposFile: o.FineGrainedHashExternalReposFile,
		ContentHashPath:              o.ContentHashPath,
		SeedFilepaths:                o.SeedFilepaths,
		ModifiedFilepaths:            o.ModifiedFilepaths,
		TargetTypes:                  splitCSV(o.TargetType),
	}

	result, err := engine.GenerateHashes(context.Background(), cfg)
	if err != nil {
		return err
	}

	log.Notice("generated %s hashes", humanize.Comma(int64(len(result.Hashes))))

	if err := writeJSON(o.Args.Output, result.Hashes); err != nil {
		return err
	}
	if o.DepEdgesFile != "" {
		if err := writeJSON(o.DepEdgesFile, result.DepEdges); err != nil {
			return err
		}
	}
	return nil
}

func runGetImpactedTargets() error {
	o := opts.GetImpactedTargets

	starting, err := loadHashMap(o.StartingHashes)
	if err != nil {
		return err
	}
	final, err := loadHashMap(o.FinalHashes)
	if err != nil {
		return err
	}

	var targetTypes map[string]bool
	if types := splitCSV(o.TargetType); len(types) > 0 {
		targetTypes = map[string]bool{}
		for _, t := range types {
			targetTypes[t] = true
		}
	}

	impactedLabels, err := impact.Impacted(starting, final, targetTypes)
	if err != nil {
		return err
	}

	if o.DepEdgesFile == "" {
		var b strings.Builder
		for _, l := range impactedLabels {
			b.WriteString(l)
			b.WriteByte('\n')
		}
		return writeRaw(o.Output, []byte(b.String()))
	}

	depEdges, err := loadDepEdges(o.DepEdgesFile)
	if err != nil {
		return err
	}
	distances, err := impact.Distances(impactedLabels, starting, final, depEdges)
	if err != nil {
		return err
	}

	type impactedRecord struct {
		Label            labels.Label `json:"label"`
		TargetDistance   int          `json:"targetDistance"`
		PackageDistance  int          `json:"packageDistance"`
	}
	records := make([]impactedRecord, len(distances))
	for i, d := range distances {
		records[i] = impactedRecord{Label: d.Label, TargetDistance: d.TargetDistance, PackageDistance: d.PackageDistance}
	}
	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return err
	}
	return writeRaw(o.Output, data)
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func loadHashMap(path string) (map[labels.Label]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var m map[string]string
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return m, nil
}

func loadDepEdges(path string) (map[labels.Label][]labels.Label, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var m map[string][]string
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return m, nil
}

func writeJSON(path string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return writeRaw(path, data)
}

func writeRaw(path string, data []byte) error {
	if path == "" {
		_, err := os.Stdout.Write(append(data, '\n'))
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
