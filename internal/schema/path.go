package schema

// PathNode is an immutable linked node naming a position in the result tree.
// Sibling fields of one object share their parent node, which makes the
// parent pointer a natural grouping key for batched object resolution.
type PathNode struct {
	parent *PathNode
	key    any // string field name or int list index
}

// Append returns a child node. Appending to a nil node yields a root-level
// node.
func (n *PathNode) Append(key any) *PathNode {
	return &PathNode{parent: n, key: key}
}

func (n *PathNode) Parent() *PathNode { return n.parent }

func (n *PathNode) Key() any { return n.key }

// Path materializes the node chain root-first, for error reporting.
func (n *PathNode) Path() []any {
	if n == nil {
		return nil
	}
	depth := 0
	for p := n; p != nil; p = p.parent {
		depth++
	}
	out := make([]any, depth)
	for p := n; p != nil; p = p.parent {
		depth--
		out[depth] = p.key
	}
	return out
}
