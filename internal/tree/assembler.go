package tree

import (
	"encoding/json"
	"net/url"
	"sort"
	"strings"
	"time"

	"arbor/internal/model"
	"arbor/internal/urlkit"
)

// Order names a sibling ordering policy.
type Order string

const (
	// OrderPage preserves the order URLs were first discovered in.
	OrderPage Order = "page"
	// OrderAlphabetical sorts siblings by node name.
	OrderAlphabetical Order = "alphabetical"
)

// Valid reports whether o names a known ordering.
func (o Order) Valid() bool {
	return o == OrderPage || o == OrderAlphabetical
}

// Options are the shape-affecting assembly policies.
type Options struct {
	FolderFirst bool
	Order       Order
}

// Input is everything one assembly pass consumes. All maps are keyed
// by normalized URL and may be nil.
type Input struct {
	RootURL       string
	InternalLinks []string
	VisitedAt     map[string]time.Time
	Metadata      map[string]*model.Metadata
	CleanedHTML   map[string]string
	Extracted     map[string]*model.ExtractedLinks
	Errors        map[string]string
	Now           time.Time
}

// assembler carries the node index and parent links for one pass.
type assembler struct {
	root    *model.TreeNode
	rootURL string
	index   map[string]*model.TreeNode
	parent  map[string]string
	now     time.Time
}

// Build converts a flat set of internal URLs plus per-URL data into a
// hierarchical tree rooted at RootURL. URLs outside the root's subtree
// are dropped.
func Build(in Input, opts Options) *model.Tree {
	now := in.Now
	if now.IsZero() {
		now = time.Now()
	}

	a := &assembler{
		root:    &model.TreeNode{URL: in.RootURL, LastUpdated: model.ISOTime(now)},
		rootURL: in.RootURL,
		index:   map[string]*model.TreeNode{},
		parent:  map[string]string{},
		now:     now,
	}
	a.index[in.RootURL] = a.root
	if u, err := url.Parse(in.RootURL); err == nil {
		a.root.Name = u.Hostname()
	}

	a.insertAll(in)
	a.attach(in)
	a.sortChildren(a.root, opts)

	return &model.Tree{
		TreeNode:  *a.root,
		TotalURLs: len(a.index),
		RootURL:   in.RootURL,
	}
}

// Merge inserts newly discovered URLs into a deep copy of existing,
// refreshes visit timestamps where the input is newer, and enriches
// node data monotonically: non-null input overwrites, null input never
// erases. Every URL of the existing tree survives.
func Merge(existing *model.Tree, in Input, opts Options) *model.Tree {
	if existing == nil {
		return Build(in, opts)
	}

	now := in.Now
	if now.IsZero() {
		now = time.Now()
	}

	root := cloneNode(&existing.TreeNode)
	a := &assembler{
		root:    root,
		rootURL: in.RootURL,
		index:   map[string]*model.TreeNode{},
		parent:  map[string]string{},
		now:     now,
	}
	a.reindex(root, "")

	a.insertAll(in)
	a.attach(in)
	a.sortChildren(a.root, opts)

	merged := &model.Tree{
		TreeNode:    *a.root,
		TotalURLs:   len(a.index),
		RootURL:     in.RootURL,
		SkippedURLs: existing.SkippedURLs,
	}
	return merged
}

func (a *assembler) insertAll(in Input) {
	for _, link := range in.InternalLinks {
		a.insert(link)
	}
	// Visited URLs enter the tree even when no page linked to them.
	visited := make([]string, 0, len(in.VisitedAt))
	for u := range in.VisitedAt {
		visited = append(visited, u)
	}
	sort.Strings(visited)
	for _, u := range visited {
		a.insert(u)
	}
}

// insert walks the segment list of u relative to the root, creating
// any missing intermediate nodes. Non-descendants are ignored.
func (a *assembler) insert(u string) {
	if _, ok := a.index[u]; ok {
		return
	}
	segs, ok := urlkit.SegmentsUnder(a.rootURL, u)
	if !ok {
		return
	}

	node := a.root
	prefix := a.rootURL
	for _, seg := range segs {
		prefix = prefix + "/" + seg
		child, ok := a.index[prefix]
		if !ok {
			name := seg
			if dec, err := url.PathUnescape(seg); err == nil {
				name = dec
			}
			child = &model.TreeNode{
				URL:         prefix,
				Name:        name,
				LastUpdated: model.ISOTime(a.now),
			}
			node.Children = append(node.Children, child)
			a.index[prefix] = child
			a.parent[prefix] = node.URL
		}
		node = child
	}
}

// attach applies per-URL data onto matching nodes. Only non-null input
// writes; a newer visit timestamp also refreshes lastUpdated up the
// ancestor chain.
func (a *assembler) attach(in Input) {
	for u, node := range a.index {
		if md, ok := in.Metadata[u]; ok && md != nil {
			node.Metadata = md
		}
		if ch, ok := in.CleanedHTML[u]; ok && ch != "" {
			node.CleanedHTML = ch
		}
		if ex, ok := in.Extracted[u]; ok && ex != nil {
			node.ExtractedLinks = ex
		}
		if msg, ok := in.Errors[u]; ok && msg != "" {
			node.Error = msg
		}

		if ts, ok := in.VisitedAt[u]; ok {
			stamp := model.ISOTime(ts)
			if node.LastVisited == "" || stamp > node.LastVisited {
				node.LastVisited = stamp
				a.touch(u)
			}
		}
	}
}

// touch refreshes lastUpdated on the node and its ancestors up to the
// root.
func (a *assembler) touch(u string) {
	stamp := model.ISOTime(a.now)
	for {
		node, ok := a.index[u]
		if !ok {
			return
		}
		node.LastUpdated = stamp
		if u == a.rootURL {
			return
		}
		parent, ok := a.parent[u]
		if !ok {
			return
		}
		u = parent
	}
}

// reindex rebuilds the URL index and parent links from an existing
// tree after cloning.
func (a *assembler) reindex(node *model.TreeNode, parentURL string) {
	a.index[node.URL] = node
	if parentURL != "" {
		a.parent[node.URL] = parentURL
	}
	for _, child := range node.Children {
		a.reindex(child, node.URL)
	}
}

// sortChildren applies the ordering policies recursively. With
// folderFirst, nodes that have children precede leaves; within each
// grouping, alphabetical sorts by name and page keeps discovery order.
func (a *assembler) sortChildren(node *model.TreeNode, opts Options) {
	for _, child := range node.Children {
		a.sortChildren(child, opts)
	}

	children := node.Children
	sort.SliceStable(children, func(i, j int) bool {
		if opts.FolderFirst {
			fi, fj := len(children[i].Children) > 0, len(children[j].Children) > 0
			if fi != fj {
				return fi
			}
		}
		if opts.Order == OrderAlphabetical {
			return strings.ToLower(children[i].Name) < strings.ToLower(children[j].Name)
		}
		// Page order: leave discovery order untouched.
		return false
	})
}

// cloneNode deep-copies a tree through its JSON form, which is also
// how trees persist in the cache.
func cloneNode(node *model.TreeNode) *model.TreeNode {
	raw, err := json.Marshal(node)
	if err != nil {
		// A tree built from model types always marshals; fall back to
		// the original rather than lose the request.
		return node
	}
	var out model.TreeNode
	if err := json.Unmarshal(raw, &out); err != nil {
		return node
	}
	return &out
}

// VisitedURLs lists every URL in the tree that carries a lastVisited
// stamp, used to seed the visited set from a cached tree.
func VisitedURLs(t *model.Tree) []string {
	if t == nil {
		return nil
	}
	var out []string
	var walk func(n *model.TreeNode)
	walk = func(n *model.TreeNode) {
		if n.LastVisited != "" {
			out = append(out, n.URL)
		}
		for _, c := range n.Children {
			walk(c)
		}
	}
	walk(&t.TreeNode)
	return out
}

// Strip returns a copy of t without cleanedHTML and extractedLinks on
// any node; cached trees never carry content payloads.
func Strip(t *model.Tree) *model.Tree {
	if t == nil {
		return nil
	}
	root := cloneNode(&t.TreeNode)
	var walk func(n *model.TreeNode)
	walk = func(n *model.TreeNode) {
		n.CleanedHTML = ""
		n.ExtractedLinks = nil
		for _, c := range n.Children {
			walk(c)
		}
	}
	walk(root)
	return &model.Tree{
		TreeNode:    *root,
		TotalURLs:   t.TotalURLs,
		RootURL:     t.RootURL,
		SkippedURLs: t.SkippedURLs,
	}
}
