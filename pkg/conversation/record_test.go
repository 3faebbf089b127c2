package conversation

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordWireFieldNames(t *testing.T) {
	r := NewRecord()
	r.Messages = makeChat("u1", "a1")
	r.Migrate()

	b, err := r.MarshalIndent()
	require.NoError(t, err)

	var raw map[string]interface{}
	require.NoError(t, json.Unmarshal(b, &raw))

	// external viewers reconstruct the projection from these fields alone
	assert.Contains(t, raw, "nodes")
	assert.Contains(t, raw, "currentVariantPath")
	assert.Contains(t, raw, "messages")

	nodes, ok := raw["nodes"].([]interface{})
	require.True(t, ok)
	require.Len(t, nodes, 1)
	node := nodes[0].(map[string]interface{})
	assert.Contains(t, node, "nodeId")
	assert.Contains(t, node, "variants")
	variant := node["variants"].([]interface{})[0].(map[string]interface{})
	assert.Contains(t, variant, "variantId")
	assert.Contains(t, variant, "userMessage")
}

func TestRecordKeepsSwitchMemoryOutOfVariantPath(t *testing.T) {
	r := NewRecord()
	r.Messages = makeChat("u1", "a1", "u2", "a2", "u3", "a3")
	tree := r.Migrate()
	nodeB := tree.Nodes[1]
	nodeC := tree.Nodes[2]

	// pick a deep alternative, then switch away near the start
	_, err := tree.CreateBranch(nodeC.NodeID, NewMessage(RoleUser, "u3b"))
	require.NoError(t, err)
	deep := tree.Projection()
	_, err = tree.CreateBranch(nodeB.NodeID, NewMessage(RoleUser, "u2b"))
	require.NoError(t, err)
	r.ApplyTree(tree)

	// the persisted path names one variant per traversed node; the switch-back
	// memory travels in its own field
	assert.Len(t, r.CurrentVariantPath, 2)
	assert.NotEmpty(t, r.VariantMemory)
	for _, id := range r.VariantMemory {
		assert.NotContains(t, r.CurrentVariantPath, id)
	}

	// a reloaded record still restores the deep position on switch-back
	b, err := r.MarshalIndent()
	require.NoError(t, err)
	r2, err := ParseRecord(b)
	require.NoError(t, err)
	tree2 := r2.Tree()
	require.NoError(t, tree2.SwitchVariant(nodeB.NodeID, 0))

	proj := tree2.Projection()
	require.Len(t, proj, len(deep))
	assert.Equal(t, "u3b", proj[len(proj)-1].Text)
}

func TestParseRecordMigratesLegacyFlatList(t *testing.T) {
	legacy := `{
		"id": "conv-1",
		"messages": [
			{"id": "m1", "role": "user", "text": "hello"},
			{"id": "m2", "role": "assistant", "text": "hi"}
		]
	}`

	r, err := ParseRecord([]byte(legacy))
	require.NoError(t, err)
	assert.Equal(t, "conv-1", r.ID)
	assert.True(t, r.IsMigrated())
	require.Len(t, r.Nodes, 1)
	require.Len(t, r.CurrentVariantPath, 1)

	proj := r.Tree().Projection()
	require.Len(t, proj, 2)
	assert.Equal(t, "hello", proj[0].Text)
	assert.Equal(t, "hi", proj[1].Text)
}

func TestParseRecordRoundtrip(t *testing.T) {
	r := NewRecord()
	tree := r.Migrate()
	_, err := tree.AddUserMessageAsNewNode(NewMessage(RoleUser, "u1"))
	require.NoError(t, err)
	require.NoError(t, tree.AddResponseToCurrentVariant(NewMessage(RoleAssistant, "a1")))
	r.ApplyTree(tree)

	b, err := r.MarshalIndent()
	require.NoError(t, err)

	r2, err := ParseRecord(b)
	require.NoError(t, err)
	assert.Equal(t, r.ID, r2.ID)
	assert.Equal(t, r.CurrentVariantPath, r2.CurrentVariantPath)

	p1 := r.Tree().Projection()
	p2 := r2.Tree().Projection()
	require.Len(t, p2, 2)
	assert.Equal(t, p1[0].Text, p2[0].Text)
	assert.Equal(t, p1[1].Text, p2[1].Text)
}
