package conversation

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// Node is a point in the conversation tree where one or more alternative user
// messages (Variants) exist. A node with more than one variant is a branch
// point.
type Node struct {
	NodeID       string     `json:"nodeId"`
	ParentNodeID string     `json:"parentNodeId,omitempty"`
	Variants     []*Variant `json:"variants"`
}

// Variant is one alternative user message plus its subsequent responses at a
// node. ChildNodeID is set once the conversation continues past this variant.
type Variant struct {
	VariantID   string    `json:"variantId"`
	UserMessage Message   `json:"userMessage"`
	Responses   []Message `json:"responses"`
	ChildNodeID string    `json:"childNodeId,omitempty"`
}

// Tree holds the branchable conversation history. Path is the variant path:
// an ordered list of variant ids, exactly one per node traversed, selecting
// the conversation currently displayed.
//
// The JSON field names are wire-stable; an external read-only viewer
// reconstructs the same projection from nodes and currentVariantPath alone.
type Tree struct {
	Nodes []*Node  `json:"nodes"`
	Path  []string `json:"currentVariantPath"`

	// Memory remembers variant selections on branches the user switched away
	// from, so switching back restores their deep position. It never feeds
	// the projection and viewers can ignore it.
	Memory []string `json:"variantMemory,omitempty"`
}

func NewTree() *Tree {
	return &Tree{}
}

var ErrNodeNotFound = errors.New("node not found")
var ErrMessageNotFound = errors.New("message not found")

// CannotDeleteBranchPointError rejects a deletion that would orphan responses
// or continuations. It is a distinct outcome so callers can explain the
// refusal instead of reporting a blanket failure.
type CannotDeleteBranchPointError struct {
	Reason string
}

func (e *CannotDeleteBranchPointError) Error() string {
	return fmt.Sprintf("cannot delete branch point: %s", e.Reason)
}

func newVariantID() string { return uuid.New().String() }
func newNodeID() string    { return uuid.New().String() }

func (t *Tree) nodeByID(id string) *Node {
	if id == "" {
		return nil
	}
	for _, n := range t.Nodes {
		if n.NodeID == id {
			return n
		}
	}
	return nil
}

// Root returns the single parentless node, or nil for an empty tree.
func (t *Tree) Root() *Node {
	for _, n := range t.Nodes {
		if n.ParentNodeID == "" {
			return n
		}
	}
	return nil
}

// selectVariant picks the variant the given path names at this node, falling
// back to the first variant when the node is not represented in the path.
// This tie-break rule is shared with the external viewer and must not change.
//
// Replay calls pass the active path followed by remembered selections; the
// scan runs in path order so active entries win over remembered ones.
func selectVariant(node *Node, path []string) *Variant {
	if node == nil || len(node.Variants) == 0 {
		return nil
	}
	for _, id := range path {
		for _, v := range node.Variants {
			if v.VariantID == id {
				return v
			}
		}
	}
	return node.Variants[0]
}

// pathToNode rebuilds the variant-path prefix leading from the root up to
// (and excluding) the given node by walking parent references. Each ancestor
// contributes the variant whose child reference points at the next node in
// the chain, so the result is correct even when the stored path is stale.
func (t *Tree) pathToNode(node *Node) []string {
	var chain []*Node
	for n := node; n != nil; n = t.nodeByID(n.ParentNodeID) {
		chain = append([]*Node{n}, chain...)
	}

	var prefix []string
	for i := 0; i+1 < len(chain); i++ {
		next := chain[i+1]
		for _, v := range chain[i].Variants {
			if v.ChildNodeID == next.NodeID {
				prefix = append(prefix, v.VariantID)
				break
			}
		}
	}
	return prefix
}

// replayPathForward walks child nodes starting at childID and picks, for each
// node, the variant the old path already named, defaulting to the first
// variant. This keeps the user's position inside sibling branches when
// switching variants near the start of a long conversation.
func (t *Tree) replayPathForward(childID string, oldPath []string) []string {
	var out []string
	for node := t.nodeByID(childID); node != nil; {
		v := selectVariant(node, oldPath)
		if v == nil {
			break
		}
		out = append(out, v.VariantID)
		node = t.nodeByID(v.ChildNodeID)
	}
	return out
}

// recall returns the active path followed by remembered selections, the
// lookup order replay uses: current choices first, older ones behind them.
func (t *Tree) recall() []string {
	out := make([]string, 0, len(t.Path)+len(t.Memory))
	out = append(out, t.Path...)
	out = append(out, t.Memory...)
	return out
}

// remainder returns the ids from old that current does not contain, in
// order, deduplicated.
func remainder(old, current []string) []string {
	seen := make(map[string]bool, len(current))
	for _, id := range current {
		seen[id] = true
	}
	var out []string
	for _, id := range old {
		if !seen[id] {
			out = append(out, id)
			seen[id] = true
		}
	}
	return out
}

// Project walks the tree from the root, at each node picking the variant the
// path names (or the first variant), emitting the user message followed by
// its responses, and descending into the child node until none remains.
//
// Project is a pure function of (tree, path): it never mutates the tree and
// its tie-break rules match the external read-only viewer exactly.
func (t *Tree) Project(path []string) Conversation {
	var out Conversation
	for node := t.Root(); node != nil; {
		v := selectVariant(node, path)
		if v == nil {
			break
		}
		if !v.UserMessage.IsZero() {
			out = append(out, v.UserMessage)
		}
		out = append(out, v.Responses...)
		node = t.nodeByID(v.ChildNodeID)
	}
	return out
}

// Projection returns the conversation selected by the tree's own stored path.
func (t *Tree) Projection() Conversation {
	return t.Project(t.Path)
}

// NewTreeFromMessages converts a legacy linear message list into tree form:
// every user message starts a new node/variant, and subsequent non-user
// messages attach as that variant's responses. Leading non-user messages
// (a system prompt, typically) live in a variant with a zero user message.
func NewTreeFromMessages(flat Conversation) *Tree {
	t := NewTree()
	var curNode *Node
	var cur *Variant

	for _, msg := range flat {
		if msg.Role == RoleUser || cur == nil {
			v := &Variant{VariantID: newVariantID()}
			if msg.Role == RoleUser {
				v.UserMessage = msg
			} else {
				v.Responses = append(v.Responses, msg)
			}
			n := &Node{NodeID: newNodeID(), Variants: []*Variant{v}}
			if curNode != nil {
				n.ParentNodeID = curNode.NodeID
				cur.ChildNodeID = n.NodeID
			}
			t.Nodes = append(t.Nodes, n)
			t.Path = append(t.Path, v.VariantID)
			curNode = n
			cur = v
			continue
		}
		cur.Responses = append(cur.Responses, msg)
	}

	return t
}

// CreateBranch adds a new variant holding userMessage to the given node,
// truncates the active path at that node's position and appends the new
// variant id. Selections past the branch point move into memory so switching
// back restores them. The tree is left unchanged if the node does not exist.
func (t *Tree) CreateBranch(nodeID string, userMessage Message) (string, error) {
	node := t.nodeByID(nodeID)
	if node == nil {
		return "", errors.Wrapf(ErrNodeNotFound, "createBranch %s", nodeID)
	}

	v := &Variant{VariantID: newVariantID(), UserMessage: userMessage}
	node.Variants = append(node.Variants, v)
	remembered := t.recall()
	t.Path = append(t.pathToNode(node), v.VariantID)
	t.Memory = remainder(remembered, t.Path)
	return v.VariantID, nil
}

// currentVariant resolves the variant at the end of the active chain by
// walking the path-selected spine from the root. The literal last path
// element is never trusted; a stale or partial path still resolves to the
// projected tail.
func (t *Tree) currentVariant() *Variant {
	_, tail := t.tail()
	return tail
}

// tail walks from the root along the active path selection, following child
// references to their end, and returns the final node and variant.
func (t *Tree) tail() (*Node, *Variant) {
	var lastNode *Node
	var lastVariant *Variant
	for node := t.Root(); node != nil; {
		v := selectVariant(node, t.Path)
		if v == nil {
			break
		}
		lastNode = node
		lastVariant = v
		node = t.nodeByID(v.ChildNodeID)
	}
	return lastNode, lastVariant
}

// AddResponseToCurrentVariant appends a response to the variant currently
// active. On an empty tree it behaves as adding the very first message.
func (t *Tree) AddResponseToCurrentVariant(response Message) error {
	if len(t.Nodes) == 0 {
		t.addFirstMessage(response)
		return nil
	}

	v := t.currentVariant()
	if v == nil {
		return errors.New("no active variant")
	}
	v.Responses = append(v.Responses, response)
	return nil
}

func (t *Tree) addFirstMessage(msg Message) {
	v := &Variant{VariantID: newVariantID()}
	if msg.Role == RoleUser {
		v.UserMessage = msg
	} else {
		v.Responses = append(v.Responses, msg)
	}
	n := &Node{NodeID: newNodeID(), Variants: []*Variant{v}}
	t.Nodes = append(t.Nodes, n)
	t.Path = []string{v.VariantID}
}

// SwitchVariant changes the path at the given node to the requested variant,
// then replays forward, preferring variants the old path already named so the
// user's position deeper in sibling branches is preserved.
func (t *Tree) SwitchVariant(nodeID string, variantIndex int) error {
	node := t.nodeByID(nodeID)
	if node == nil {
		return errors.Wrapf(ErrNodeNotFound, "switchVariant %s", nodeID)
	}
	if variantIndex < 0 || variantIndex >= len(node.Variants) {
		return errors.Errorf("variant index %d out of range for node %s", variantIndex, nodeID)
	}

	chosen := node.Variants[variantIndex]
	remembered := t.recall()

	newPath := append(t.pathToNode(node), chosen.VariantID)
	newPath = append(newPath, t.replayPathForward(chosen.ChildNodeID, remembered)...)
	// Selections for nodes off the new chain move into memory; the persisted
	// path itself stays one entry per traversed node.
	t.Path = newPath
	t.Memory = remainder(remembered, newPath)
	return nil
}

// AddUserMessageAsNewNode appends a new node as the child of the current tail
// variant. The tail is located by following child references from the root,
// not by trusting the stored path, which may be stale.
func (t *Tree) AddUserMessageAsNewNode(message Message) (string, error) {
	if len(t.Nodes) == 0 {
		t.addFirstMessage(message)
		return t.Nodes[0].NodeID, nil
	}

	var chain []string
	var tailNode *Node
	var tailVariant *Variant
	for node := t.Root(); node != nil; {
		v := selectVariant(node, t.Path)
		if v == nil {
			break
		}
		chain = append(chain, v.VariantID)
		tailNode = node
		tailVariant = v
		node = t.nodeByID(v.ChildNodeID)
	}
	if tailVariant == nil {
		return "", errors.New("tree has nodes but no reachable tail")
	}

	v := &Variant{VariantID: newVariantID(), UserMessage: message}
	n := &Node{NodeID: newNodeID(), ParentNodeID: tailNode.NodeID, Variants: []*Variant{v}}
	tailVariant.ChildNodeID = n.NodeID
	t.Nodes = append(t.Nodes, n)
	t.Path = append(chain, v.VariantID)
	return n.NodeID, nil
}

// DeleteMessage removes a single message. When a node has several variants the
// search is restricted to the variant on the active path, so deletion targets
// what the user sees. Deletions that would orphan responses or continuations
// return *CannotDeleteBranchPointError and leave the tree untouched.
func (t *Tree) DeleteMessage(messageID string) error {
	for node := t.Root(); node != nil; {
		v := selectVariant(node, t.Path)
		if v == nil {
			break
		}

		if v.UserMessage.ID == messageID && !v.UserMessage.IsZero() {
			return t.deleteUserMessage(node, v)
		}

		for i, resp := range v.Responses {
			if resp.ID == messageID {
				return t.deleteResponse(v, i)
			}
		}

		node = t.nodeByID(v.ChildNodeID)
	}
	return errors.Wrapf(ErrMessageNotFound, "deleteMessage %s", messageID)
}

func (t *Tree) deleteResponse(v *Variant, idx int) error {
	if idx != len(v.Responses)-1 {
		return &CannotDeleteBranchPointError{Reason: "response is not the last in its variant"}
	}
	if v.ChildNodeID != "" {
		return &CannotDeleteBranchPointError{Reason: "variant continues into a later node"}
	}
	v.Responses = v.Responses[:idx]
	return nil
}

func (t *Tree) deleteUserMessage(node *Node, v *Variant) error {
	if len(v.Responses) > 0 {
		return &CannotDeleteBranchPointError{Reason: "variant has responses"}
	}
	if v.ChildNodeID != "" {
		return &CannotDeleteBranchPointError{Reason: "variant has a continuation"}
	}

	if len(node.Variants) == 1 {
		// removing the last variant removes the node
		if parent := t.nodeByID(node.ParentNodeID); parent != nil {
			for _, pv := range parent.Variants {
				if pv.ChildNodeID == node.NodeID {
					pv.ChildNodeID = ""
				}
			}
		}
		t.Path = t.pathToNode(node)
		t.removeNode(node.NodeID)
		return nil
	}

	remembered := t.recall()
	kept := make([]*Variant, 0, len(node.Variants)-1)
	for _, cand := range node.Variants {
		if cand.VariantID != v.VariantID {
			kept = append(kept, cand)
		}
	}
	node.Variants = kept

	// repair the path to point at a sibling
	sibling := selectVariant(node, remembered)
	newPath := append(t.pathToNode(node), sibling.VariantID)
	newPath = append(newPath, t.replayPathForward(sibling.ChildNodeID, remembered)...)
	withoutDeleted := make([]string, 0, len(remembered))
	for _, id := range remembered {
		if id != v.VariantID {
			withoutDeleted = append(withoutDeleted, id)
		}
	}
	t.Path = newPath
	t.Memory = remainder(withoutDeleted, newPath)
	return nil
}

func (t *Tree) removeNode(nodeID string) {
	kept := make([]*Node, 0, len(t.Nodes)-1)
	for _, n := range t.Nodes {
		if n.NodeID != nodeID {
			kept = append(kept, n)
		}
	}
	t.Nodes = kept
}

// FindNodeByUserMessage walks the active chain and returns the node whose
// selected variant holds the given user message id. Used by callers that
// branch from a message the user currently sees.
func (t *Tree) FindNodeByUserMessage(messageID string) (*Node, bool) {
	for node := t.Root(); node != nil; {
		v := selectVariant(node, t.Path)
		if v == nil {
			break
		}
		if v.UserMessage.ID == messageID {
			return node, true
		}
		node = t.nodeByID(v.ChildNodeID)
	}
	return nil, false
}
