package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stackform-io/stackform/internal/ir"
)

func indexOf(s []string, v string) int {
	for i, x := range s {
		if x == v {
			return i
		}
	}
	return -1
}

func TestBuildGraphExplicitDependencies(t *testing.T) {
	g, err := BuildGraph([]*ir.Resource{
		testResource("kv", "b", nil, "kv.a"),
		testResource("kv", "a", nil),
	})
	require.NoError(t, err)

	order := g.CreationOrder()
	require.Len(t, order, 2)
	assert.Less(t, indexOf(order, "kv.a"), indexOf(order, "kv.b"))

	destruction := g.DestructionOrder()
	assert.Less(t, indexOf(destruction, "kv.b"), indexOf(destruction, "kv.a"))

	assert.Equal(t, []string{"kv.a"}, g.Dependencies("kv.b"))
	assert.Empty(t, g.Dependencies("kv.a"))
}

func TestBuildGraphImplicitRefEdges(t *testing.T) {
	g, err := BuildGraph([]*ir.Resource{
		testResource("aws:IAM.Policy", "state", map[string]any{
			"document": map[string]any{
				"resources": []any{
					"ref://aws:S3.Bucket/state/arn",
					"ref://aws:DynamoDB.Table/locks/arn",
				},
			},
		}),
		testResource("aws:S3.Bucket", "state", map[string]any{"bucket": "state"}),
		testResource("aws:DynamoDB.Table", "locks", map[string]any{"tableName": "locks"}),
	})
	require.NoError(t, err)

	order := g.CreationOrder()
	policy := indexOf(order, "aws:IAM.Policy.state")
	assert.Greater(t, policy, indexOf(order, "aws:S3.Bucket.state"))
	assert.Greater(t, policy, indexOf(order, "aws:DynamoDB.Table.locks"))
	assert.ElementsMatch(t,
		[]string{"aws:S3.Bucket.state", "aws:DynamoDB.Table.locks"},
		g.Dependencies("aws:IAM.Policy.state"))
}

func TestBuildGraphCycle(t *testing.T) {
	_, err := BuildGraph([]*ir.Resource{
		testResource("kv", "a", nil, "kv.b"),
		testResource("kv", "b", nil, "kv.a"),
	})
	require.Error(t, err)
	assert.True(t, IsConfigError(err))

	var cycle *CycleError
	require.ErrorAs(t, err, &cycle)
	assert.ElementsMatch(t, []string{"kv.a", "kv.b"}, cycle.Nodes)
}

func TestBuildGraphDuplicateIdentity(t *testing.T) {
	_, err := BuildGraph([]*ir.Resource{
		testResource("kv", "a", nil),
		testResource("kv", "a", nil),
	})
	require.Error(t, err)
	assert.True(t, IsConfigError(err))

	var dup *DuplicateIdentityError
	require.ErrorAs(t, err, &dup)
	assert.Equal(t, "kv.a", dup.Address)
}

func TestBuildGraphUnresolvedReference(t *testing.T) {
	_, err := BuildGraph([]*ir.Resource{
		testResource("kv", "a", nil, "kv.missing"),
	})
	require.Error(t, err)
	assert.True(t, IsConfigError(err))

	var unresolved *UnresolvedReferenceError
	require.ErrorAs(t, err, &unresolved)
	assert.Equal(t, "kv.a", unresolved.Address)
	assert.Equal(t, "kv.missing", unresolved.Reference)

	_, err = BuildGraph([]*ir.Resource{
		testResource("kv", "a", map[string]any{"v": "ref://kv/missing/id"}),
	})
	require.Error(t, err)
	require.ErrorAs(t, err, &unresolved)
	assert.Equal(t, "kv.missing", unresolved.Reference)
}

func TestBuildGraphDeterministicOrder(t *testing.T) {
	resources := []*ir.Resource{
		testResource("kv", "c", nil),
		testResource("kv", "a", nil),
		testResource("kv", "b", nil),
	}
	g, err := BuildGraph(resources)
	require.NoError(t, err)
	assert.Equal(t, []string{"kv.a", "kv.b", "kv.c"}, g.CreationOrder())
}

func TestExtractRefs(t *testing.T) {
	props := map[string]any{
		"plain": "value",
		"ref":   "ref://aws:S3.Bucket/state/arn",
		"nested": map[string]any{
			"list": []any{"ref://kv/a/id", 42},
		},
	}
	refs := ExtractRefs(props)
	assert.ElementsMatch(t, []string{"ref://aws:S3.Bucket/state/arn", "ref://kv/a/id"}, refs)
}

func TestRefAddr(t *testing.T) {
	assert.Equal(t, "aws:S3.Bucket.state", RefAddr("ref://aws:S3.Bucket/state/arn"))
	assert.Equal(t, "", RefAddr("ref://malformed"))
	assert.Equal(t, "", RefAddr("not a ref"))
}
