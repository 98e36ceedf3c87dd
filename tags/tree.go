package tags

import (
	"sort"
	"time"
)

// Node is one placed entry. Depth is the node's level in the compiled tree (1 = root),
// which can be shallower than the entry's marker depth after clamping or filtering.
type Node struct {
	Entry    Entry
	Session  Session
	Depth    int
	Offset   int // DisplayOffset, unclamped
	Children []*Node
}

// Tree is a compiled forest. It is rebuilt on every compile and never mutated after.
type Tree struct {
	Roots []*Node
}

// Filter restricts which placed entries survive into the output.
type Filter struct {
	MinStars int
	AuthorID string
	// From and To bound CreatedAt when non-zero (inclusive).
	From time.Time
	To   time.Time
	// Limit keeps only the first Limit surviving entries in time order. Zero keeps all.
	Limit int
}

func (f Filter) keep(e Entry) bool {
	if e.Stars < f.MinStars {
		return false
	}
	if f.AuthorID != "" && e.AuthorID != f.AuthorID {
		return false
	}
	if !f.From.IsZero() && e.CreatedAt.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && e.CreatedAt.After(f.To) {
		return false
	}
	return true
}

func (f Filter) empty() bool { return f == Filter{} }

// CompileTree orders entries by (CreatedAt, ID), drops tombstoned ones and places each
// under the nearest preceding entry on the current outline path that sits exactly one
// level up. Depth 1, or an empty path, starts a new root. A depth that skips levels is
// clamped to one below the deepest entry on the path. The filter runs after placement;
// the children of a removed node move up to its nearest surviving ancestor in its place.
//
// sessions supplies the offset anchor for each entry's SessionID; entries whose session
// is missing are skipped.
func CompileTree(entries []Entry, sessions map[string]Session, f Filter) Tree {
	live := make([]Entry, 0, len(entries))
	seen := make(map[string]bool, len(entries))
	for _, e := range entries {
		if e.Tombstoned || seen[e.ID] {
			continue
		}
		if _, ok := sessions[e.SessionID]; !ok {
			continue
		}
		seen[e.ID] = true
		live = append(live, e)
	}
	sort.SliceStable(live, func(i, j int) bool { return entryLess(live[i], live[j]) })

	var roots []*Node
	var path []*Node // path[d-1] is the latest node at depth d on the current branch
	for _, e := range live {
		s := sessions[e.SessionID]
		n := &Node{Entry: e, Session: s, Offset: DisplayOffset(e, s)}
		d := e.Depth
		if d < 1 {
			d = 1
		}
		if d == 1 || len(path) == 0 {
			n.Depth = 1
			roots = append(roots, n)
			path = append(path[:0], n)
			continue
		}
		d = min(d, len(path)+1)
		parent := path[d-2]
		n.Depth = d
		parent.Children = append(parent.Children, n)
		path = append(path[:d-1], n)
	}

	if !f.empty() {
		roots = filterNodes(roots, f)
		renumber(roots, 1)
	}
	if f.Limit > 0 {
		left := f.Limit
		roots = truncate(roots, &left)
	}
	return Tree{Roots: roots}
}

func filterNodes(nodes []*Node, f Filter) []*Node {
	var out []*Node
	for _, n := range nodes {
		kids := filterNodes(n.Children, f)
		if f.keep(n.Entry) {
			c := *n
			c.Children = kids
			out = append(out, &c)
			continue
		}
		out = append(out, kids...)
	}
	return out
}

// truncate keeps the first *left nodes in preorder. Preorder is time order and every
// ancestor precedes its descendants, so the kept nodes stay attached.
func truncate(nodes []*Node, left *int) []*Node {
	var out []*Node
	for _, n := range nodes {
		if *left == 0 {
			break
		}
		*left--
		n.Children = truncate(n.Children, left)
		out = append(out, n)
	}
	return out
}

func renumber(nodes []*Node, depth int) {
	for _, n := range nodes {
		n.Depth = depth
		renumber(n.Children, depth+1)
	}
}

// Walk visits nodes depth first in output order. last reports whether n is the final
// sibling at its level.
func (t Tree) Walk(fn func(n *Node, last bool)) {
	var walk func([]*Node)
	walk = func(ns []*Node) {
		for i, n := range ns {
			fn(n, i == len(ns)-1)
			walk(n.Children)
		}
	}
	walk(t.Roots)
}

// Len counts the nodes in the tree.
func (t Tree) Len() int {
	n := 0
	t.Walk(func(*Node, bool) { n++ })
	return n
}

// Entries lists entry ids in output order.
func (t Tree) Entries() []string {
	var ids []string
	t.Walk(func(n *Node, _ bool) { ids = append(ids, n.Entry.ID) })
	return ids
}
