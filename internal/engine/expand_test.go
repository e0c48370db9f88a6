package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stackform-io/stackform/internal/ir"
)

func TestExpandCount(t *testing.T) {
	res := testResource("kv", "node", map[string]any{
		"name": "node-${count.index}",
	})
	res.Count = 3

	expanded := Expand([]*ir.Resource{res})
	require.Len(t, expanded, 3)
	assert.Equal(t, "node[0]", expanded[0].Name)
	assert.Equal(t, "node[2]", expanded[2].Name)
	assert.Equal(t, "node-0", expanded[0].Properties["name"])
	assert.Equal(t, "node-2", expanded[2].Properties["name"])
}

func TestExpandForEach(t *testing.T) {
	res := testResource("kv", "user", map[string]any{
		"name": "${each.key}",
		"role": "${each.value}",
	})
	res.ForEach = map[string]any{"alice": "admin"}

	expanded := Expand([]*ir.Resource{res})
	require.Len(t, expanded, 1)
	assert.Equal(t, `user["alice"]`, expanded[0].Name)
	assert.Equal(t, "alice", expanded[0].Properties["name"])
	assert.Equal(t, "admin", expanded[0].Properties["role"])
}

func TestExpandPassthrough(t *testing.T) {
	res := testResource("kv", "single", map[string]any{"v": "1"})
	expanded := Expand([]*ir.Resource{res})
	require.Len(t, expanded, 1)
	assert.Same(t, res, expanded[0])
}

func TestExpandClonesProperties(t *testing.T) {
	res := testResource("kv", "node", map[string]any{
		"nested": map[string]any{"idx": "${count.index}"},
	})
	res.Count = 2

	expanded := Expand([]*ir.Resource{res})
	require.Len(t, expanded, 2)

	first := expanded[0].Properties["nested"].(map[string]any)
	second := expanded[1].Properties["nested"].(map[string]any)
	assert.Equal(t, "0", first["idx"])
	assert.Equal(t, "1", second["idx"])
}
