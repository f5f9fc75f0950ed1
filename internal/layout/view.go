package layout

import (
	"errors"
	"fmt"
)

// View is a nested, read-only copy of a tree for renderers and JSON output.
// Size is always emitted: a zero weight on a child is a real weight. The
// root's size carries no meaning.
type View struct {
	ID        NodeID  `json:"id"`
	Kind      Kind    `json:"type"`
	SessionID string  `json:"sessionId,omitempty"`
	Size      float64 `json:"size"`
	Children  []View  `json:"children,omitempty"`
}

// View copies the tree rooted at Root into nested form.
func (t *Tree) View() View {
	return t.view(t.root)
}

func (t *Tree) view(id NodeID) View {
	n, ok := t.nodes[id]
	if !ok {
		return View{ID: id}
	}
	v := View{ID: n.ID, Kind: n.Kind, SessionID: n.SessionID, Size: n.Size}
	if len(n.Children) > 0 {
		v.Children = make([]View, 0, len(n.Children))
		for _, child := range n.Children {
			v.Children = append(v.Children, t.view(child))
		}
	}
	return v
}

// ErrInvalidTree is wrapped by every Validate failure.
var ErrInvalidTree = errors.New("layout: invalid tree")

// Validate checks the structural invariants: every reachable node is a
// well-formed leaf or two-child split, ids and sessions are unique, the
// structure is acyclic and the arena holds no unreachable records.
func (t *Tree) Validate() error {
	if _, ok := t.nodes[t.root]; !ok {
		return fmt.Errorf("%w: root %q missing", ErrInvalidTree, t.root)
	}

	seen := make(map[NodeID]bool, len(t.nodes))
	sessions := make(map[string]NodeID)

	var check func(id NodeID) error
	check = func(id NodeID) error {
		if seen[id] {
			return fmt.Errorf("%w: node %q reached twice", ErrInvalidTree, id)
		}
		seen[id] = true

		n, ok := t.nodes[id]
		if !ok {
			return fmt.Errorf("%w: child %q missing from arena", ErrInvalidTree, id)
		}
		if n.ID != id {
			return fmt.Errorf("%w: record %q stored under %q", ErrInvalidTree, n.ID, id)
		}

		switch {
		case n.Kind == Leaf:
			if n.SessionID == "" {
				return fmt.Errorf("%w: leaf %q has no session", ErrInvalidTree, id)
			}
			if len(n.Children) != 0 {
				return fmt.Errorf("%w: leaf %q has children", ErrInvalidTree, id)
			}
			if other, dup := sessions[n.SessionID]; dup {
				return fmt.Errorf("%w: session %q in both %q and %q", ErrInvalidTree, n.SessionID, other, id)
			}
			sessions[n.SessionID] = id
		case n.Kind.IsSplit():
			if n.SessionID != "" {
				return fmt.Errorf("%w: split %q holds session %q", ErrInvalidTree, id, n.SessionID)
			}
			if len(n.Children) != 2 {
				return fmt.Errorf("%w: split %q has %d children", ErrInvalidTree, id, len(n.Children))
			}
			for _, child := range n.Children {
				if err := check(child); err != nil {
					return err
				}
			}
		default:
			return fmt.Errorf("%w: node %q has %s", ErrInvalidTree, id, n.Kind)
		}
		return nil
	}

	if err := check(t.root); err != nil {
		return err
	}
	if len(seen) != len(t.nodes) {
		return fmt.Errorf("%w: %d unreachable nodes", ErrInvalidTree, len(t.nodes)-len(seen))
	}
	return nil
}
