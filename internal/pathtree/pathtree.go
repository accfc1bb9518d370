// Package pathtree implements the nested key-value structure backing
// run history, summaries and configs.
package pathtree

import "github.com/wandb/simplejsonext"

// TreeData is a nested map where values are either TreeData or a leaf
// value of any caller-provided type.
type TreeData = map[string]any

// TreePath is a list of strings mapping to a value.
type TreePath []string

// PathTree is a tree with a string at each non-leaf node.
//
// If the leaves are JSON values, then this is essentially a JSON
// object.
type PathTree struct {
	tree TreeData
}

// PathItem is the value at a leaf node and the path to that leaf.
type PathItem struct {
	Path  TreePath
	Value any
}

func New() *PathTree {
	return &PathTree{make(TreeData)}
}

func NewFrom(tree TreeData) *PathTree {
	return &PathTree{tree}
}

// IsEmpty returns whether the tree has no leaves.
func (pt *PathTree) IsEmpty() bool {
	return len(pt.tree) == 0
}

// CloneTree returns a nested-map representation of the tree.
//
// This always allocates a new map. Slice values are copied by
// reference.
func (pt *PathTree) CloneTree() TreeData {
	return deepCopy(pt.tree)
}

// Set changes the value of the leaf node at the given path.
//
// Missing intermediate nodes are created. If the path refers to a
// non-leaf node, that node is replaced by a leaf and its subtree is
// discarded.
func (pt *PathTree) Set(path TreePath, value any) {
	prefix := path[:len(path)-1]
	key := path[len(path)-1]

	getOrMakeSubtree(pt.tree, prefix)[key] = value
}

// Remove deletes a node from the tree.
func (pt *PathTree) Remove(path TreePath) {
	prefix := path[:len(path)-1]
	key := path[len(path)-1]

	if subtree := getSubtree(pt.tree, prefix); subtree != nil {
		delete(subtree, key)
	}
}

// GetLeaf returns the leaf value at path.
//
// Returns nil and false if the path doesn't lead to a leaf node.
func (pt *PathTree) GetLeaf(path TreePath) (any, bool) {
	prefix := path[:len(path)-1]
	key := path[len(path)-1]

	subtree := getSubtree(pt.tree, prefix)
	if subtree == nil {
		return nil, false
	}

	value, exists := subtree[key]
	if !exists {
		return nil, false
	}

	if _, isSubtree := value.(TreeData); isSubtree {
		return nil, false
	}
	return value, true
}

// Flatten returns all the leaves of the tree.
//
// The order is nondeterministic.
func (pt *PathTree) Flatten() []PathItem {
	return flatten(pt.tree, nil)
}

// ToExtendedJSON encodes the tree as an extension of JSON that
// supports NaN and +-Infinity.
//
// Values must be JSON-encodable.
func (pt *PathTree) ToExtendedJSON() ([]byte, error) {
	return simplejsonext.Marshal(pt.tree)
}

func flatten(tree TreeData, prefix []string) []PathItem {
	var leaves []PathItem
	for key, value := range tree {
		switch value := value.(type) {
		case TreeData:
			leaves = append(leaves, flatten(value, append(prefix, key))...)
		default:
			leaves = append(leaves, PathItem{append(prefix, key), value})
		}
	}
	return leaves
}

// getSubtree returns the subtree at the path or nil if the path
// doesn't lead to a non-leaf node.
func getSubtree(tree TreeData, path TreePath) TreeData {
	for _, key := range path {
		node, ok := tree[key]
		if !ok {
			return nil
		}

		subtree, ok := node.(TreeData)
		if !ok {
			return nil
		}

		tree = subtree
	}
	return tree
}

// getOrMakeSubtree returns the subtree at the path, creating it if
// necessary. Leaf nodes along the path get overwritten.
func getOrMakeSubtree(tree TreeData, path TreePath) TreeData {
	for _, key := range path {
		node, exists := tree[key]
		if !exists {
			subtree := make(TreeData)
			tree[key] = subtree
			tree = subtree
			continue
		}

		subtree, ok := node.(TreeData)
		if !ok {
			subtree = make(TreeData)
			tree[key] = subtree
		}

		tree = subtree
	}
	return tree
}

func deepCopy(tree TreeData) TreeData {
	clone := make(TreeData)
	for key, value := range tree {
		switch value := value.(type) {
		case TreeData:
			clone[key] = deepCopy(value)
		default:
			clone[key] = value
		}
	}
	return clone
}
