package cli

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestShellSplitListUnmarshal(t *testing.T) {
	var l ShellSplitList
	assert.NoError(t, l.UnmarshalFlag("--host_jvm_args=-Xmx2g --batch"))
	assert.Equal(t, ShellSplitList{"--host_jvm_args=-Xmx2g", "--batch"}, l)
	assert.NoError(t, l.UnmarshalFlag("--extra"))
	assert.Equal(t, ShellSplitList{"--host_jvm_args=-Xmx2g", "--batch", "--extra"}, l)
}

func TestShellSplitListUnmarshalError(t *testing.T) {
	var l ShellSplitList
	assert.Error(t, l.UnmarshalFlag(`"unterminated`))
}
