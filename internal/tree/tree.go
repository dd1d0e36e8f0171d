// Package tree implements the B+-tree (spec.md §4.5): search, point
// get, cursor iteration, insert with split-resolution, erase with
// underflow-resolution, and vacuum. Adapted from the teacher's
// pkg/btree, generalized to the page/pager/txn layering and to the
// overflow-chain cell codec in internal/page.
package tree

import (
	"bytes"

	"calico/internal/calicoerr"
	"calico/internal/page"
	"calico/internal/txn"
)

// Tree is an ordered map over a single root page id.
type Tree struct {
	rootID   page.PageID
	pageSize int
	minLocal int
	maxLocal int
}

// Open wraps the tree rooted at page.RootPageID. The root is always
// page 1: the pager initializes it as an empty external node (alongside
// the file header it additionally carries) when the data file is first
// created, so there is no separate tree-create step.
func Open(pageSize int) *Tree {
	minLocal, maxLocal := page.LocalLimits(pageSize)
	return &Tree{rootID: page.RootPageID, pageSize: pageSize, minLocal: minLocal, maxLocal: maxLocal}
}

// RootID returns the tree's root page id. It is always page.RootPageID:
// splits of the root and root-collapsing merges keep the root's page id.
func (tr *Tree) RootID() page.PageID { return tr.rootID }

func (tr *Tree) meta(isExternal bool) page.Meta {
	return page.Meta{IsExternal: isExternal, MinLocal: tr.minLocal, MaxLocal: tr.maxLocal}
}

// MaxKeyLen is the largest key the public API accepts: a key must fit
// entirely local per spec.md §7's InvalidArgument precondition, so the
// cell codec never needs to split one.
func (tr *Tree) MaxKeyLen() int { return tr.maxLocal }

// searchResult locates a key's position in the tree.
type searchResult struct {
	leafID  page.PageID
	index   int
	exact   bool
	parents []parentStep // root-to-leaf path, for split/erase resolution
}

type parentStep struct {
	id    page.PageID
	index int // index of the child pointer taken, in this parent
}

// search descends from the root to the external node that would contain
// key, recording the path taken.
func (tr *Tree) search(t *txn.Txn, key []byte) (*searchResult, error) {
	var path []parentStep
	id := tr.rootID

	for {
		fr, err := t.Acquire(id)
		if err != nil {
			return nil, err
		}
		n := page.NewNode(fr.Data())
		isExternal := n.IsExternal()
		idx, exact := tr.bsearch(n, fr.Data(), isExternal, key)

		if isExternal {
			t.Release(fr)
			return &searchResult{leafID: id, index: idx, exact: exact, parents: path}, nil
		}

		var childID page.PageID
		if idx < n.CellCount() {
			cell := page.ParseCell(tr.meta(false), fr.Data(), n.CellOffset(idx))
			childID = cell.ChildID
		} else {
			childID = n.NextID()
		}
		path = append(path, parentStep{id: id, index: idx})
		t.Release(fr)
		id = childID
	}
}

// bsearch finds the first slot whose key is >= target, and whether it's
// an exact match.
func (tr *Tree) bsearch(n *page.Node, buf []byte, isExternal bool, target []byte) (int, bool) {
	lo, hi := 0, n.CellCount()
	m := tr.meta(isExternal)
	for lo < hi {
		mid := (lo + hi) / 2
		cell := page.ParseCell(m, buf, n.CellOffset(mid))
		cmp := bytes.Compare(page.Key(buf, cell), target)
		if cmp == 0 {
			return mid, true
		}
		if cmp < 0 {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	return lo, false
}

// Get returns the value for key, or calicoerr.ErrNotFound.
func (tr *Tree) Get(t *txn.Txn, key []byte) ([]byte, error) {
	res, err := tr.search(t, key)
	if err != nil {
		return nil, err
	}
	if !res.exact {
		return nil, calicoerr.ErrNotFound
	}

	fr, err := t.Acquire(res.leafID)
	if err != nil {
		return nil, err
	}
	defer t.Release(fr)

	n := page.NewNode(fr.Data())
	cell := page.ParseCell(tr.meta(true), fr.Data(), n.CellOffset(res.index))
	local := page.LocalValue(fr.Data(), cell)

	if !cell.HasOverflow {
		return append([]byte(nil), local...), nil
	}
	return tr.readOverflow(t, cell, local)
}
