package nodestream

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thought-machine/hashdiff/src/graph"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	nodes := []graph.Node{
		{Source: &graph.SourceFile{Name: "//a:x.txt", Subincludes: []string{"//a:inc.bzl"}}},
		{Rule: &graph.Rule{
			Name:                 "//a:lib",
			RuleClass:            "cc_library",
			SkylarkEnvironmentHash: "env123",
			Attributes:           []graph.Attribute{{Name: "srcs", Value: []byte("//a:x.txt")}},
			RuleInputs:           []string{"//a:x.txt"},
			ConfiguredRuleInputs: []string{"//a:x.txt"},
		}},
		{Generated: &graph.GeneratedFile{Name: "//a:gen.txt", GeneratingRule: "//a:lib"}},
	}

	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, nodes))

	got, err := Decode(&buf)
	require.NoError(t, err)
	require.Len(t, got, 3)

	assert.Equal(t, "//a:x.txt", got[0].Source.Name)
	assert.Equal(t, []string{"//a:inc.bzl"}, got[0].Source.Subincludes)

	assert.Equal(t, "//a:lib", got[1].Rule.Name)
	assert.Equal(t, "cc_library", got[1].Rule.RuleClass)
	assert.Equal(t, "env123", got[1].Rule.SkylarkEnvironmentHash)
	require.Len(t, got[1].Rule.Attributes, 1)
	assert.Equal(t, "srcs", got[1].Rule.Attributes[0].Name)
	assert.Equal(t, []byte("//a:x.txt"), got[1].Rule.Attributes[0].Value)
	assert.Equal(t, []string{"//a:x.txt"}, got[1].Rule.RuleInputs)
	assert.Equal(t, []string{"//a:x.txt"}, got[1].Rule.ConfiguredRuleInputs)

	assert.Equal(t, "//a:gen.txt", got[2].Generated.Name)
	assert.Equal(t, "//a:lib", got[2].Generated.GeneratingRule)
}

func TestDecodeEmptyStreamYieldsNoNodes(t *testing.T) {
	got, err := Decode(bytes.NewReader(nil))
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestDecodeTruncatedStreamFails(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, []graph.Node{{Source: &graph.SourceFile{Name: "//a:x.txt"}}}))
	truncated := buf.Bytes()[:buf.Len()-2]
	_, err := Decode(bytes.NewReader(truncated))
	require.Error(t, err)
}
