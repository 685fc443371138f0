package router

import "sort"

// Tree is the broadcast spanning tree. It is rebuilt whenever swarm
// membership changes and gives O(depth) fan-out for broadcast traffic.
//
// Layout: the local root is index 0 and the remaining node IDs are placed in
// sorted order; children of index i are indexes 2i+1 and 2i+2.
type Tree struct {
	root     string
	children map[string][]string
}

// BuildTree constructs a spanning tree rooted at root over the given node
// IDs. The root is included whether or not it appears in ids.
func BuildTree(root string, ids []string) *Tree {
	ordered := make([]string, 0, len(ids)+1)
	ordered = append(ordered, root)
	rest := make([]string, 0, len(ids))
	for _, id := range ids {
		if id != root {
			rest = append(rest, id)
		}
	}
	sort.Strings(rest)
	ordered = append(ordered, rest...)

	children := make(map[string][]string, len(ordered))
	for i, id := range ordered {
		for _, c := range []int{2*i + 1, 2*i + 2} {
			if c < len(ordered) {
				children[id] = append(children[id], ordered[c])
			}
		}
	}
	return &Tree{root: root, children: children}
}

// Root returns the tree's root node ID.
func (t *Tree) Root() string { return t.root }

// Children returns the direct children of a node.
func (t *Tree) Children(id string) []string { return t.children[id] }

// Walk visits every node reachable from the root depth-first, excluding the
// root itself. A visited set guards against cycles if the tree is ever
// rebuilt concurrently with membership churn.
func (t *Tree) Walk(visit func(id string) error) error {
	visited := map[string]bool{t.root: true}
	return t.walk(t.root, visited, visit)
}

func (t *Tree) walk(id string, visited map[string]bool, visit func(id string) error) error {
	for _, child := range t.children[id] {
		if visited[child] {
			continue
		}
		visited[child] = true
		if err := visit(child); err != nil {
			return err
		}
		if err := t.walk(child, visited, visit); err != nil {
			return err
		}
	}
	return nil
}
