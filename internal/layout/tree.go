package layout

import (
	"slices"
)

// Tree is the layout of one tab. It always has a root.
// Tree is not safe for concurrent use; the owner serialises access.
type Tree struct {
	root  NodeID
	nodes map[NodeID]*Node
}

// New returns a tree whose root is a single leaf for sessionID.
func New(sessionID string) *Tree {
	root := &Node{ID: NewNodeID(), Kind: Leaf, SessionID: sessionID}
	return &Tree{
		root:  root.ID,
		nodes: map[NodeID]*Node{root.ID: root},
	}
}

// Root returns the root node id.
func (t *Tree) Root() NodeID {
	return t.root
}

// Len returns the number of nodes in the arena.
func (t *Tree) Len() int {
	return len(t.nodes)
}

// Node returns a copy of the node with the given id.
func (t *Tree) Node(id NodeID) (Node, bool) {
	n, ok := t.nodes[id]
	if !ok {
		return Node{}, false
	}
	return n.clone(), true
}

// Match is the result of a lookup. Parent is only meaningful when HasParent
// is true; the root has no parent.
type Match struct {
	Node      NodeID
	Parent    NodeID
	HasParent bool
}

// FindBySession returns the first leaf, in pre-order, holding sessionID.
func (t *Tree) FindBySession(sessionID string) (Match, bool) {
	return t.find(func(n *Node) bool {
		return n.Kind == Leaf && n.SessionID == sessionID
	})
}

// FindByID returns the node with the given id and its parent.
func (t *Tree) FindByID(id NodeID) (Match, bool) {
	return t.find(func(n *Node) bool { return n.ID == id })
}

func (t *Tree) find(pred func(*Node) bool) (Match, bool) {
	var (
		result Match
		found  bool
	)
	var visit func(id, parent NodeID, hasParent bool) bool
	visit = func(id, parent NodeID, hasParent bool) bool {
		n, ok := t.nodes[id]
		if !ok {
			return false
		}
		if pred(n) {
			result = Match{Node: id, Parent: parent, HasParent: hasParent}
			found = true
			return true
		}
		for _, child := range n.Children {
			if visit(child, id, true) {
				return true
			}
		}
		return false
	}
	visit(t.root, "", false)
	return result, found
}

// Split turns the leaf holding targetSessionID into a split node in place.
// The node keeps its id and gets two fresh leaf children: the original
// session first, newSessionID second, each with DefaultSplitSize.
// It returns false, leaving the tree untouched, when the target is missing,
// newSessionID is empty, or newSessionID is already in the tree.
func (t *Tree) Split(targetSessionID string, dir Direction, newSessionID string) bool {
	if newSessionID == "" {
		return false
	}
	if _, dup := t.FindBySession(newSessionID); dup {
		return false
	}
	m, ok := t.FindBySession(targetSessionID)
	if !ok {
		return false
	}

	first := &Node{ID: NewNodeID(), Kind: Leaf, SessionID: targetSessionID, Size: DefaultSplitSize}
	second := &Node{ID: NewNodeID(), Kind: Leaf, SessionID: newSessionID, Size: DefaultSplitSize}
	t.nodes[first.ID] = first
	t.nodes[second.ID] = second

	n := t.nodes[m.Node]
	n.Kind = dir.Kind()
	n.SessionID = ""
	n.Children = []NodeID{first.ID, second.ID}
	return true
}

// RemoveResult reports what Remove did.
type RemoveResult int

const (
	// NotFound means no leaf holds the session; nothing changed.
	NotFound RemoveResult = iota
	// RootLeaf means the session is the tree's only pane. The tree is left
	// untouched: removing it empties the tab, which is the owner's call.
	RootLeaf
	// Removed means the leaf was detached and its parent collapsed if needed.
	Removed
)

func (r RemoveResult) String() string {
	switch r {
	case RootLeaf:
		return "root_leaf"
	case Removed:
		return "removed"
	default:
		return "not_found"
	}
}

// Remove detaches the leaf holding sessionID from its parent.
// When the parent is left with a single child, the parent takes over that
// child's kind, session and children but keeps its own id and size, so the
// tree never holds a split with fewer than two children.
func (t *Tree) Remove(sessionID string) RemoveResult {
	m, ok := t.FindBySession(sessionID)
	if !ok {
		return NotFound
	}
	if !m.HasParent {
		return RootLeaf
	}

	parent := t.nodes[m.Parent]
	parent.Children = slices.DeleteFunc(parent.Children, func(id NodeID) bool {
		return id == m.Node
	})
	delete(t.nodes, m.Node)

	if len(parent.Children) == 1 {
		survivor := t.nodes[parent.Children[0]]
		parent.Kind = survivor.Kind
		parent.SessionID = survivor.SessionID
		parent.Children = survivor.Children
		delete(t.nodes, survivor.ID)
	}
	return Removed
}

// Resize sets the rendering weight of a node. Siblings are not adjusted.
func (t *Tree) Resize(id NodeID, size float64) bool {
	n, ok := t.nodes[id]
	if !ok || size < 0 {
		return false
	}
	n.Size = size
	return true
}

// Walk visits nodes in pre-order with their depth (root is 0).
// Returning false from fn skips the node's children.
func (t *Tree) Walk(fn func(n Node, depth int) bool) {
	var visit func(id NodeID, depth int)
	visit = func(id NodeID, depth int) {
		n, ok := t.nodes[id]
		if !ok {
			return
		}
		if !fn(n.clone(), depth) {
			return
		}
		for _, child := range n.Children {
			visit(child, depth+1)
		}
	}
	visit(t.root, 0)
}

// SessionIDs returns every session referenced by the tree, in pre-order.
func (t *Tree) SessionIDs() []string {
	var ids []string
	t.Walk(func(n Node, _ int) bool {
		if n.IsLeaf() {
			ids = append(ids, n.SessionID)
		}
		return true
	})
	return ids
}

// LeafCount returns the number of panes.
func (t *Tree) LeafCount() int {
	count := 0
	t.Walk(func(n Node, _ int) bool {
		if n.IsLeaf() {
			count++
		}
		return true
	})
	return count
}
