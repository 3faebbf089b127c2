package conversation

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func makeChat(texts ...string) Conversation {
	var out Conversation
	for i, text := range texts {
		role := RoleAssistant
		if i%2 == 0 {
			role = RoleUser
		}
		out = append(out, NewMessage(role, text))
	}
	return out
}

func TestMigrateProjectRoundtrip(t *testing.T) {
	cases := []struct {
		name string
		flat Conversation
	}{
		{"alternating", makeChat("u1", "a1", "u2", "a2")},
		{"consecutive users", Conversation{
			NewMessage(RoleUser, "u1"),
			NewMessage(RoleUser, "u2"),
			NewMessage(RoleAssistant, "a1"),
		}},
		{"multiple responses", Conversation{
			NewMessage(RoleUser, "u1"),
			NewMessage(RoleAssistant, "a1"),
			NewMessage(RoleToolResponse, "t1"),
			NewMessage(RoleAssistant, "a2"),
		}},
		{"leading system message", Conversation{
			NewMessage(RoleSystem, "be nice"),
			NewMessage(RoleUser, "u1"),
			NewMessage(RoleAssistant, "a1"),
		}},
		{"empty", nil},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			tree := NewTreeFromMessages(tc.flat)
			require.Equal(t, tc.flat, tree.Projection())
		})
	}
}

func TestMigrateIsIdempotentOnRecord(t *testing.T) {
	r := NewRecord()
	r.Messages = makeChat("u1", "a1", "u2", "a2")

	tree := r.Migrate()
	nodesBefore := len(r.Nodes)
	pathBefore := append([]string{}, r.CurrentVariantPath...)

	again := r.Migrate()
	assert.Equal(t, nodesBefore, len(r.Nodes))
	assert.Equal(t, pathBefore, r.CurrentVariantPath)
	assert.Equal(t, tree.Projection(), again.Projection())
}

func TestCreateBranchThenNewMessageAttachesToNewBranch(t *testing.T) {
	flat := makeChat("u1", "a1", "u2", "a2", "u3", "a3", "u4", "a4", "u5", "a5")
	tree := NewTreeFromMessages(flat)
	require.Len(t, tree.Nodes, 5)

	// branch three levels deep
	branchNode := tree.Nodes[2]
	u3b := NewMessage(RoleUser, "u3b")
	variantID, err := tree.CreateBranch(branchNode.NodeID, u3b)
	require.NoError(t, err)
	require.Len(t, branchNode.Variants, 2)

	proj := tree.Projection()
	require.Len(t, proj, 5)
	assert.Equal(t, "u3b", proj[4].Text)

	u4b := NewMessage(RoleUser, "u4b")
	newNodeID, err := tree.AddUserMessageAsNewNode(u4b)
	require.NoError(t, err)

	// the new node hangs off the new branch's tail, not the old branch's
	newNode := tree.nodeByID(newNodeID)
	require.NotNil(t, newNode)
	assert.Equal(t, branchNode.NodeID, newNode.ParentNodeID)
	assert.Equal(t, newNodeID, branchNode.Variants[1].ChildNodeID)
	assert.Equal(t, variantID, branchNode.Variants[1].VariantID)

	proj = tree.Projection()
	require.Len(t, proj, 6)
	assert.Equal(t, "u4b", proj[5].Text)
}

func TestCreateBranchUnknownNodeLeavesTreeUnchanged(t *testing.T) {
	tree := NewTreeFromMessages(makeChat("u1", "a1"))
	pathBefore := append([]string{}, tree.Path...)

	_, err := tree.CreateBranch("no-such-node", NewMessage(RoleUser, "x"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNodeNotFound))
	assert.Equal(t, pathBefore, tree.Path)
	require.Len(t, tree.Nodes, 2)
	assert.Len(t, tree.Nodes[0].Variants, 1)
}

func TestSwitchVariantRoundtripRestoresProjection(t *testing.T) {
	tree := NewTreeFromMessages(makeChat("u1", "a1", "u2", "a2", "u3", "a3"))
	nodeB := tree.Nodes[1]
	nodeC := tree.Nodes[2]

	_, err := tree.CreateBranch(nodeB.NodeID, NewMessage(RoleUser, "u2b"))
	require.NoError(t, err)
	require.NoError(t, tree.SwitchVariant(nodeB.NodeID, 0))

	// select a deep branch under B's first variant
	_, err = tree.CreateBranch(nodeC.NodeID, NewMessage(RoleUser, "u3b"))
	require.NoError(t, err)

	deep := tree.Projection()
	require.Len(t, deep, 5)
	require.Equal(t, "u3b", deep[4].Text)

	// switch away near the start, then back
	require.NoError(t, tree.SwitchVariant(nodeB.NodeID, 1))
	assert.Equal(t, "u2b", tree.Projection()[2].Text)

	require.NoError(t, tree.SwitchVariant(nodeB.NodeID, 0))
	assert.Equal(t, deep, tree.Projection())
}

func TestAddResponseAfterSwitchVariantGoesToActiveTail(t *testing.T) {
	tree := NewTreeFromMessages(makeChat("u1", "a1", "u2", "a2", "u3", "a3"))
	nodeB := tree.Nodes[1]

	// branch at the second node and continue the conversation under the branch
	_, err := tree.CreateBranch(nodeB.NodeID, NewMessage(RoleUser, "u2b"))
	require.NoError(t, err)
	branchChildID, err := tree.AddUserMessageAsNewNode(NewMessage(RoleUser, "u3b"))
	require.NoError(t, err)

	// back on the original branch, a regenerated response lands on its tail
	require.NoError(t, tree.SwitchVariant(nodeB.NodeID, 0))
	require.NoError(t, tree.AddResponseToCurrentVariant(NewMessage(RoleAssistant, "a3-retry")))

	proj := tree.Projection()
	require.Equal(t, "a3-retry", proj[len(proj)-1].Text)

	// the branch switched away from stays untouched
	assert.Empty(t, nodeB.Variants[1].Responses)
	branchChild := tree.nodeByID(branchChildID)
	require.NotNil(t, branchChild)
	assert.Empty(t, branchChild.Variants[0].Responses)
}

func TestSwitchVariantKeepsPathOneEntryPerNode(t *testing.T) {
	tree := NewTreeFromMessages(makeChat("u1", "a1", "u2", "a2", "u3", "a3"))
	nodeA := tree.Nodes[0]
	nodeB := tree.Nodes[1]
	nodeC := tree.Nodes[2]

	u3bID, err := tree.CreateBranch(nodeC.NodeID, NewMessage(RoleUser, "u3b"))
	require.NoError(t, err)
	_, err = tree.CreateBranch(nodeB.NodeID, NewMessage(RoleUser, "u2b"))
	require.NoError(t, err)
	require.NoError(t, tree.SwitchVariant(nodeB.NodeID, 0))

	// the stored path names exactly the active chain, one variant per node
	want := []string{
		nodeA.Variants[0].VariantID,
		nodeB.Variants[0].VariantID,
		u3bID,
	}
	assert.Equal(t, want, tree.Path)

	// remembered selections for abandoned branches live outside the path
	assert.Contains(t, tree.Memory, nodeB.Variants[1].VariantID)
	assert.Contains(t, tree.Memory, nodeC.Variants[0].VariantID)
	for _, id := range tree.Memory {
		assert.NotContains(t, tree.Path, id)
	}
}

func TestSwitchVariantOutOfRange(t *testing.T) {
	tree := NewTreeFromMessages(makeChat("u1", "a1"))
	err := tree.SwitchVariant(tree.Nodes[0].NodeID, 3)
	require.Error(t, err)
	err = tree.SwitchVariant(tree.Nodes[0].NodeID, -1)
	require.Error(t, err)
}

func TestAddResponseOnEmptyTree(t *testing.T) {
	tree := NewTree()
	msg := NewMessage(RoleAssistant, "hello")
	require.NoError(t, tree.AddResponseToCurrentVariant(msg))
	require.Len(t, tree.Nodes, 1)
	require.Equal(t, Conversation{msg}, tree.Projection())
}

func TestAddResponseGoesToActiveVariant(t *testing.T) {
	tree := NewTreeFromMessages(makeChat("u1", "a1"))
	nodeA := tree.Nodes[0]
	_, err := tree.CreateBranch(nodeA.NodeID, NewMessage(RoleUser, "u1b"))
	require.NoError(t, err)

	resp := NewMessage(RoleAssistant, "a1b")
	require.NoError(t, tree.AddResponseToCurrentVariant(resp))

	require.Len(t, nodeA.Variants[0].Responses, 1)
	assert.Equal(t, "a1", nodeA.Variants[0].Responses[0].Text)
	require.Len(t, nodeA.Variants[1].Responses, 1)
	assert.Equal(t, "a1b", nodeA.Variants[1].Responses[0].Text)
}

func TestDeleteLastResponse(t *testing.T) {
	tree := NewTreeFromMessages(makeChat("u1", "a1"))
	respID := tree.Nodes[0].Variants[0].Responses[0].ID

	require.NoError(t, tree.DeleteMessage(respID))
	assert.Empty(t, tree.Nodes[0].Variants[0].Responses)
}

func TestDeleteNonLastResponseRejected(t *testing.T) {
	flat := Conversation{
		NewMessage(RoleUser, "u1"),
		NewMessage(RoleAssistant, "a1"),
		NewMessage(RoleAssistant, "a2"),
	}
	tree := NewTreeFromMessages(flat)

	err := tree.DeleteMessage(flat[1].ID)
	var bpErr *CannotDeleteBranchPointError
	require.ErrorAs(t, err, &bpErr)
	require.Len(t, tree.Nodes[0].Variants[0].Responses, 2)
}

func TestDeleteResponseWithContinuationRejected(t *testing.T) {
	flat := makeChat("u1", "a1", "u2", "a2")
	tree := NewTreeFromMessages(flat)

	err := tree.DeleteMessage(flat[1].ID)
	var bpErr *CannotDeleteBranchPointError
	require.ErrorAs(t, err, &bpErr)
}

func TestDeleteSoleVariantRemovesNode(t *testing.T) {
	flat := makeChat("u1", "a1", "u2")
	tree := NewTreeFromMessages(flat)
	require.Len(t, tree.Nodes, 2)

	require.NoError(t, tree.DeleteMessage(flat[2].ID))
	require.Len(t, tree.Nodes, 1)
	assert.Empty(t, tree.Nodes[0].Variants[0].ChildNodeID)
	assert.Equal(t, []string{tree.Nodes[0].Variants[0].VariantID}, tree.Path)
}

func TestDeleteUserMessageWithResponsesRejected(t *testing.T) {
	flat := makeChat("u1", "a1")
	tree := NewTreeFromMessages(flat)

	err := tree.DeleteMessage(flat[0].ID)
	var bpErr *CannotDeleteBranchPointError
	require.ErrorAs(t, err, &bpErr)
	require.Len(t, tree.Nodes, 1)
}

func TestDeleteVariantRepairsPathToSibling(t *testing.T) {
	tree := NewTreeFromMessages(makeChat("u1", "a1"))
	nodeA := tree.Nodes[0]

	u1b := NewMessage(RoleUser, "u1b")
	_, err := tree.CreateBranch(nodeA.NodeID, u1b)
	require.NoError(t, err)
	require.Equal(t, "u1b", tree.Projection()[0].Text)

	require.NoError(t, tree.DeleteMessage(u1b.ID))
	require.Len(t, nodeA.Variants, 1)
	assert.Equal(t, []string{nodeA.Variants[0].VariantID}, tree.Path)
	assert.Equal(t, "u1", tree.Projection()[0].Text)
}

func TestDeleteUnknownMessage(t *testing.T) {
	tree := NewTreeFromMessages(makeChat("u1", "a1"))
	err := tree.DeleteMessage("nope")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrMessageNotFound))
}

func TestFindNodeByUserMessage(t *testing.T) {
	flat := makeChat("u1", "a1", "u2", "a2")
	tree := NewTreeFromMessages(flat)

	node, ok := tree.FindNodeByUserMessage(flat[2].ID)
	require.True(t, ok)
	assert.Equal(t, tree.Nodes[1].NodeID, node.NodeID)

	_, ok = tree.FindNodeByUserMessage("nope")
	assert.False(t, ok)
}

func TestFindNodeByUserMessageIgnoresInactiveVariants(t *testing.T) {
	tree := NewTreeFromMessages(makeChat("u1"))
	nodeA := tree.Nodes[0]
	inactiveID := nodeA.Variants[0].UserMessage.ID

	_, err := tree.CreateBranch(nodeA.NodeID, NewMessage(RoleUser, "u1b"))
	require.NoError(t, err)

	_, ok := tree.FindNodeByUserMessage(inactiveID)
	assert.False(t, ok)
}

func TestDeleteSearchRestrictedToActivePath(t *testing.T) {
	tree := NewTreeFromMessages(makeChat("u1"))
	nodeA := tree.Nodes[0]
	inactiveID := nodeA.Variants[0].UserMessage.ID

	_, err := tree.CreateBranch(nodeA.NodeID, NewMessage(RoleUser, "u1b"))
	require.NoError(t, err)

	// the first variant is off the active path now, so its message is not found
	err = tree.DeleteMessage(inactiveID)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrMessageNotFound))
	require.Len(t, nodeA.Variants, 2)
}
