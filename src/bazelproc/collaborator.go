// Package bazelproc implements the subprocess collaborator contract from
// spec §6: version(), output_base(), query(expression) and
// cquery(expression), each returning decoded graph nodes, with the
// §6/§7 exit-code rules (0 success, 3 success-with-partial-failure iff
// keep_going).
//
// Grounded on original_source/crates/core/src/bazel.rs, which shells out
// to a `bazel` binary with `--output=streamed_proto` and a
// `--query_file` pointing at a scratch file holding the query
// expression; rewritten in please's process-invocation idiom (an
// options struct, os/exec, command-line logging through
// shellescape-quoted argv) since this module has no async runtime.
package bazelproc

import (
	"bytes"
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/alessio/shellescape"
	"github.com/google/uuid"

	"github.com/thought-machine/hashdiff/src/cli/logging"
	"github.com/thought-machine/hashdiff/src/graph"
	"github.com/thought-machine/hashdiff/src/herrors"
	"github.com/thought-machine/hashdiff/src/nodestream"
)

var log = logging.Log

// Options configures how the build tool is invoked.
type Options struct {
	Workspace      string
	BazelPath      string
	StartupOptions []string
	CommandOptions []string
	CqueryOptions  []string
	KeepGoing      bool
}

func (o Options) binary() string {
	if o.BazelPath == "" {
		return "bazel"
	}
	return o.BazelPath
}

// Collaborator drives the build tool binary per spec §6.
type Collaborator struct {
	opts Options
}

// New returns a Collaborator for opts.
func New(opts Options) *Collaborator {
	return &Collaborator{opts: opts}
}

// Version returns the build tool's self-reported version string
// (diagnostic use only, per original_source's version() passthrough).
func (c *Collaborator) Version(ctx context.Context) (string, error) {
	args := append(append([]string{}, c.opts.StartupOptions...), "--version")
	out, err := c.run(ctx, "version", args, nil)
	if err != nil {
		return "", err
	}
	line := firstLine(out)
	return strings.TrimPrefix(line, "bazel "), nil
}

// OutputBase returns the build tool's output_base directory.
func (c *Collaborator) OutputBase(ctx context.Context) (string, error) {
	args := append(append([]string{}, c.opts.StartupOptions...), "info", "output_base")
	out, err := c.run(ctx, "info", args, nil)
	if err != nil {
		return "", err
	}
	line := firstLine(out)
	if line == "" {
		return "", &herrors.SubprocessFailed{Subcommand: "info output_base", ExitStatus: 0}
	}
	return line, nil
}

// LocateExternalRepo asks the build tool where it fetched repo to,
// for the external-repo resolver's fallback path (spec §4.2).
func (c *Collaborator) LocateExternalRepo(ctx context.Context, repo string) (string, error) {
	args := append(append([]string{}, c.opts.StartupOptions...), "query")
	args = append(args, "--output=location", "@"+repo+"//...")
	if c.opts.KeepGoing {
		args = append(args, "--keep_going")
	}
	out, err := c.run(ctx, "query", args, nil)
	if err != nil {
		return "", err
	}
	line := firstLine(out)
	if idx := strings.Index(line, ": "); idx != -1 {
		line = line[:idx]
	}
	return line, nil
}

// Query runs `query expression` with streamed-proto output and decodes
// the resulting node stream.
func (c *Collaborator) Query(ctx context.Context, expression string) ([]graph.Node, error) {
	args := append(append([]string{}, c.opts.StartupOptions...), "query")
	args = append(args, "--output=streamed_proto", "--order_output=no")
	if c.opts.KeepGoing {
		args = append(args, "--keep_going")
	}
	args = append(args, c.opts.CommandOptions...)
	return c.runQuery(ctx, "query", args, expression)
}

// CQuery runs `cquery expression` with streamed-proto output and decodes
// the resulting node stream.
func (c *Collaborator) CQuery(ctx context.Context, expression string) ([]graph.Node, error) {
	args := append(append([]string{}, c.opts.StartupOptions...), "cquery")
	args = append(args, "--transitions=lite", "--output=streamed_proto")
	if c.opts.KeepGoing {
		args = append(args, "--keep_going")
	}
	args = append(args, c.opts.CqueryOptions...)
	args = append(args, "--consistent_labels")
	return c.runQuery(ctx, "cquery", args, expression)
}

func (c *Collaborator) runQuery(ctx context.Context, subcommand string, args []string, expression string) ([]graph.Node, error) {
	queryFile, cleanup, err := c.writeScratchFile(expression)
	if err != nil {
		return nil, err
	}
	defer cleanup()

	args = append(args, "--query_file", queryFile)
	out, err := c.run(ctx, subcommand, args, nil)
	if err != nil {
		return nil, err
	}
	nodes, err := nodestream.Decode(bytes.NewReader(out))
	if err != nil {
		return nil, err
	}
	return nodes, nil
}

// writeScratchFile names a unique scratch file inside the workspace the
// way please's process package names its own per-invocation temp paths,
// and returns a cleanup func removing it on all exit paths.
func (c *Collaborator) writeScratchFile(contents string) (string, func(), error) {
	name := filepath.Join(c.opts.Workspace, ".hashdiff-query-"+uuid.New().String())
	if err := os.WriteFile(name, []byte(contents), 0o600); err != nil {
		return "", nil, &herrors.IoError{Path: name, Err: err}
	}
	return name, func() {
		if err := os.Remove(name); err != nil && !os.IsNotExist(err) {
			log.Warning("failed to remove scratch file %s: %s", name, err)
		}
	}, nil
}

func (c *Collaborator) run(ctx context.Context, subcommand string, args []string, stdin []byte) ([]byte, error) {
	cmd := exec.CommandContext(ctx, c.opts.binary(), args...)
	cmd.Dir = c.opts.Workspace
	if stdin != nil {
		cmd.Stdin = bytes.NewReader(stdin)
	}
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	log.Debug("running %s", shellescape.QuoteCommand(append([]string{c.opts.binary()}, args...)))

	err := cmd.Run()
	if err == nil {
		return stdout.Bytes(), nil
	}
	exitStatus, ok := exitCode(err)
	if !ok {
		return nil, &herrors.IoError{Path: c.opts.binary(), Err: err}
	}
	if isAllowedStatus(exitStatus, c.opts.KeepGoing) {
		return stdout.Bytes(), nil
	}
	log.Warning("%s %s failed: %s", c.opts.binary(), subcommand, strings.TrimSpace(stderr.String()))
	return nil, &herrors.SubprocessFailed{Subcommand: subcommand, ExitStatus: exitStatus}
}

func isAllowedStatus(code int, keepGoing bool) bool {
	return code == 0 || (keepGoing && code == 3)
}

func exitCode(err error) (int, bool) {
	var exitErr *exec.ExitError
	if !errors.As(err, &exitErr) {
		return 0, false
	}
	return exitErr.ExitCode(), true
}

func firstLine(data []byte) string {
	s := string(data)
	if idx := strings.IndexByte(s, '\n'); idx != -1 {
		s = s[:idx]
	}
	return strings.TrimSpace(s)
}
