package impact

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thought-machine/hashdiff/src/herrors"
	"github.com/thought-machine/hashdiff/src/labels"
)

func TestImpactedIsSetDifference(t *testing.T) {
	starting := map[labels.Label]string{"//a:x": "aaa", "//a:y": "bbb"}
	final := map[labels.Label]string{"//a:x": "aaa", "//a:y": "ccc", "//a:z": "ddd"}
	got, err := Impacted(starting, final, nil)
	require.NoError(t, err)
	assert.Equal(t, []labels.Label{"//a:y", "//a:z"}, got)
}

func TestImpactedSortsByTypeThenLabel(t *testing.T) {
	starting := map[labels.Label]string{}
	final := map[labels.Label]string{
		"//z:rule": "Rule#a",
		"//a:src":  "SourceFile#b",
		"//m:gen":  "GeneratedFile#c",
	}
	got, err := Impacted(starting, final, nil)
	require.NoError(t, err)
	assert.Equal(t, []labels.Label{"//a:src", "//m:gen", "//z:rule"}, got)
}

func TestImpactedTypeFilterRequiresKind(t *testing.T) {
	starting := map[labels.Label]string{}
	final := map[labels.Label]string{"//a:x": "noKindPrefix"}
	_, err := Impacted(starting, final, map[string]bool{"Rule": true})
	require.Error(t, err)
	var missing *herrors.MissingTargetType
	assert.ErrorAs(t, err, &missing)
}

func TestImpactedTypeFilterRetainsMatching(t *testing.T) {
	starting := map[labels.Label]string{}
	final := map[labels.Label]string{
		"//a:rule": "Rule#a",
		"//a:src":  "SourceFile#b",
	}
	got, err := Impacted(starting, final, map[string]bool{"Rule": true})
	require.NoError(t, err)
	assert.Equal(t, []labels.Label{"//a:rule"}, got)
}

func TestDistancesScenario(t *testing.T) {
	starting := map[labels.Label]string{
		"//a:lib": "Rule#OLD_T~D1",
		"//a:dep": "Rule#T2~D2",
	}
	final := map[labels.Label]string{
		"//a:lib": "Rule#NEW_T~D1",
		"//a:dep": "Rule#T2_NEW~D3",
	}
	depEdges := map[labels.Label][]labels.Label{
		"//a:lib": {"//a:dep"},
		"//a:dep": {},
	}

	impactedLabels, err := Impacted(starting, final, nil)
	require.NoError(t, err)
	assert.Equal(t, []labels.Label{"//a:dep", "//a:lib"}, impactedLabels)

	dists, err := Distances(impactedLabels, starting, final, depEdges)
	require.NoError(t, err)
	require.Len(t, dists, 2)
	assert.Equal(t, Distance{Label: "//a:dep", TargetDistance: 0, PackageDistance: 0}, dists[0])
	assert.Equal(t, Distance{Label: "//a:lib", TargetDistance: 1, PackageDistance: 0}, dists[1])
}

func TestDistancesIndirectWithoutDepGraph(t *testing.T) {
	starting := map[labels.Label]string{"//a:lib": "Rule#T~D1"}
	final := map[labels.Label]string{"//a:lib": "Rule#T2~D1"}
	impactedLabels, err := Impacted(starting, final, nil)
	require.NoError(t, err)

	_, err = Distances(impactedLabels, starting, final, map[labels.Label][]labels.Label{})
	require.Error(t, err)
	var want *herrors.IndirectWithoutDepGraph
	assert.ErrorAs(t, err, &want)
}

func TestDistancesIndirectWithoutImpactedDep(t *testing.T) {
	starting := map[labels.Label]string{
		"//a:lib": "Rule#T~D1",
		"//a:dep": "Rule#T~D1",
	}
	final := map[labels.Label]string{
		"//a:lib": "Rule#T2~D1",
		"//a:dep": "Rule#T~D1",
	}
	depEdges := map[labels.Label][]labels.Label{
		"//a:lib": {"//a:dep"},
		"//a:dep": {},
	}
	impactedLabels, err := Impacted(starting, final, nil)
	require.NoError(t, err)
	assert.Equal(t, []labels.Label{"//a:lib"}, impactedLabels)

	_, err = Distances(impactedLabels, starting, final, depEdges)
	require.Error(t, err)
	var want *herrors.IndirectWithoutImpactedDep
	assert.ErrorAs(t, err, &want)
}

func TestDistancesCycleDetection(t *testing.T) {
	starting := map[labels.Label]string{
		"//a:x": "Rule#T~D1",
		"//a:y": "Rule#T~D1",
	}
	final := map[labels.Label]string{
		"//a:x": "Rule#T2~D1",
		"//a:y": "Rule#T2~D1",
	}
	depEdges := map[labels.Label][]labels.Label{
		"//a:x": {"//a:y"},
		"//a:y": {"//a:x"},
	}
	impactedLabels, err := Impacted(starting, final, nil)
	require.NoError(t, err)

	_, err = Distances(impactedLabels, starting, final, depEdges)
	require.Error(t, err)
	var want *herrors.CycleInImpactGraph
	assert.ErrorAs(t, err, &want)
}
