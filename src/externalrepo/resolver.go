// Package externalrepo implements the external-repo resolver from spec
// §4.2: given a repo name, find the on-disk directory it was fetched
// into, falling back to asking the build tool itself.
//
// Modelled on please's Subrepo type (src/core/subrepo.go), which also
// tracks a root directory per external repository; unlike please, which
// registers subrepos up front while parsing BUILD files, this resolver
// discovers them lazily against the build tool's output base, since this
// spec's engine never parses any build-tool language (explicit
// non-goal). Resolver itself is a concrete struct; the fallback that asks
// the build tool sits behind the Locator interface, so unit tests can
// substitute FakeLocator for the real subprocess collaborator.
package externalrepo

import (
	"os"
	"path/filepath"
)

// Locator is the subset of the subprocess collaborator (spec §6) the
// resolver needs: the ability to ask the build tool to locate a repo it
// doesn't already know about on disk.
type Locator interface {
	// LocateRepo returns the first line of the build tool's answer to a
	// "where is this repo" query, as a raw path string.
	LocateRepo(repo string) (string, error)
}

// Resolver maps an external-repo name to its on-disk directory (spec §4.2).
type Resolver struct {
	outputBase string
	locator    Locator
}

// New returns a Resolver rooted at outputBase (e.g. from the build tool's
// `info output_base`), falling back to locator when a repo isn't found
// under the two conventional layouts.
func New(outputBase string, locator Locator) *Resolver {
	return &Resolver{outputBase: outputBase, locator: locator}
}

func (r *Resolver) externalRoot() string {
	return filepath.Join(r.outputBase, "external")
}

// Resolve returns the directory repo was fetched into.
func (r *Resolver) Resolve(repo string) string {
	root := r.externalRoot()
	if dir := filepath.Join(root, repo); exists(dir) {
		return dir
	}
	if dir := filepath.Join(root, repo+"+"); exists(dir) {
		return dir
	}
	if r.locator != nil {
		if path, err := r.locator.LocateRepo(repo); err == nil && path != "" {
			rel := firstPathComponent(stripPrefix(path, root))
			return filepath.Join(root, rel)
		}
	}
	return filepath.Join(root, repo)
}

func exists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info != nil
}

func stripPrefix(path, prefix string) string {
	rel, err := filepath.Rel(prefix, path)
	if err != nil {
		return path
	}
	return rel
}

func firstPathComponent(rel string) string {
	for i, c := range rel {
		if os.IsPathSeparator(byte(c)) {
			return rel[:i]
		}
	}
	return rel
}

// FakeLocator is a test double implementing Locator.
type FakeLocator struct {
	Paths map[string]string
	Err   error
}

// LocateRepo implements Locator.
func (f *FakeLocator) LocateRepo(repo string) (string, error) {
	if f.Err != nil {
		return "", f.Err
	}
	return f.Paths[repo], nil
}
