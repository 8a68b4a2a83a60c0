package externalrepo

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveFindsPlainDir(t *testing.T) {
	base := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(base, "external", "rules_go"), 0o755))
	r := New(base, nil)
	assert.Equal(t, filepath.Join(base, "external", "rules_go"), r.Resolve("rules_go"))
}

func TestResolveFindsCanonicalPlusDir(t *testing.T) {
	base := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(base, "external", "rules_go+"), 0o755))
	r := New(base, nil)
	assert.Equal(t, filepath.Join(base, "external", "rules_go+"), r.Resolve("rules_go"))
}

func TestResolveFallsBackToLocator(t *testing.T) {
	base := t.TempDir()
	loc := &FakeLocator{Paths: map[string]string{
		"rules_go": filepath.Join(base, "external", "rules_go++1.2.3", "foo"),
	}}
	r := New(base, loc)
	assert.Equal(t, filepath.Join(base, "external", "rules_go++1.2.3"), r.Resolve("rules_go"))
}

func TestResolveFinalFallback(t *testing.T) {
	base := t.TempDir()
	r := New(base, &FakeLocator{Err: assertErr{}})
	assert.Equal(t, filepath.Join(base, "external", "rules_go"), r.Resolve("rules_go"))
}

type assertErr struct{}

func (assertErr) Error() string { return "locate failed" }
