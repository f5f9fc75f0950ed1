// Package layout holds the per-tab pane tree: a binary tree whose leaves are
// terminal sessions and whose internal nodes are horizontal or vertical
// splits.
//
// Nodes live in an arena indexed by NodeID and refer to their children by id.
// Two identity rules hold across mutations and callers may rely on them:
//
//   - splitting a leaf keeps the leaf's id on the new split node
//   - collapsing a split that lost a child keeps the split's id
package layout

import (
	"fmt"

	"github.com/google/uuid"
)

// NodeID identifies a node within a tab. Stable for the node's lifetime.
type NodeID string

const nodeIDPrefix = "node-"

// NewNodeID returns a fresh node id.
func NewNodeID() NodeID {
	return NodeID(nodeIDPrefix + uuid.NewString())
}

// Kind is the shape of a node.
type Kind int

const (
	Leaf Kind = iota
	SplitHorizontal
	SplitVertical
)

func (k Kind) String() string {
	switch k {
	case Leaf:
		return "leaf"
	case SplitHorizontal:
		return "horizontal"
	case SplitVertical:
		return "vertical"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// IsSplit reports whether k is one of the split kinds.
func (k Kind) IsSplit() bool {
	return k == SplitHorizontal || k == SplitVertical
}

// MarshalText encodes the kind as leaf, horizontal or vertical.
func (k Kind) MarshalText() ([]byte, error) {
	switch k {
	case Leaf, SplitHorizontal, SplitVertical:
		return []byte(k.String()), nil
	}
	return nil, fmt.Errorf("layout: unknown kind %d", int(k))
}

// UnmarshalText is the inverse of MarshalText.
func (k *Kind) UnmarshalText(text []byte) error {
	switch string(text) {
	case "leaf":
		*k = Leaf
	case "horizontal":
		*k = SplitHorizontal
	case "vertical":
		*k = SplitVertical
	default:
		return fmt.Errorf("layout: unknown kind %q", text)
	}
	return nil
}

// Direction selects the split kind produced by Split.
type Direction int

const (
	Horizontal Direction = iota
	Vertical
)

func (d Direction) String() string {
	if d == Vertical {
		return "vertical"
	}
	return "horizontal"
}

// Kind returns the split kind a split in this direction produces.
func (d Direction) Kind() Kind {
	if d == Vertical {
		return SplitVertical
	}
	return SplitHorizontal
}

// ParseDirection accepts "horizontal" or "vertical".
func ParseDirection(s string) (Direction, error) {
	switch s {
	case "horizontal":
		return Horizontal, nil
	case "vertical":
		return Vertical, nil
	}
	return Horizontal, fmt.Errorf("layout: unknown direction %q", s)
}

// DefaultSplitSize is the weight given to each child of a fresh split.
const DefaultSplitSize = 50

// Node is one record in the arena.
// A Leaf has a SessionID and no Children; a split has exactly two Children
// and no SessionID.
type Node struct {
	ID        NodeID
	Kind      Kind
	SessionID string
	Children  []NodeID

	// Size is a rendering weight relative to siblings. Sibling sizes are not
	// required to sum to 100.
	Size float64
}

// IsLeaf reports whether n is a pane.
func (n Node) IsLeaf() bool {
	return n.Kind == Leaf
}

func (n Node) clone() Node {
	if n.Children != nil {
		n.Children = append([]NodeID(nil), n.Children...)
	}
	return n
}
