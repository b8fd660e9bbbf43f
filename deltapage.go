package transvec

import "sync/atomic"

// bitset is a small fixed-size bitset over a configurable slot count, used
// for the read/write/checkBounds triplet of a DeltaPage (§3). It exists
// instead of []bool purely to keep a page's three bitsets cache-friendly, in
// the spirit of the original layout's "old and new values co-resident" cache
// line packing (define.hpp's SGMT_SIZE comment).
type bitset struct {
	words []uint64
}

func newBitset(n int) bitset {
	return bitset{words: make([]uint64, (n+63)/64)}
}

func (b bitset) set(i int) {
	b.words[i/64] |= 1 << uint(i%64)
}

func (b bitset) get(i int) bool {
	return b.words[i/64]&(1<<uint(i%64)) != 0
}

// deltaPage is an immutable snapshot of one transaction's effect on one
// segment (§3 DeltaPage). Once reachable from a segment's head pointer or
// another page's prev, none of its fields are ever mutated again.
type deltaPage struct {
	owner *Descriptor
	prev  *deltaPage

	read, write, checkBounds bitset
	old, new                 []Value

	// retireEpoch is not set anywhere in this package and stays zero:
	// reclaim.go relies on the garbage collector and tracks no epochs.
	retireEpoch atomic.Uint64
}

func newDeltaPage(owner *Descriptor, segSize int) *deltaPage {
	return &deltaPage{
		owner:       owner,
		read:        newBitset(segSize),
		write:       newBitset(segSize),
		checkBounds: newBitset(segSize),
		old:         make([]Value, segSize),
		new:         make([]Value, segSize),
	}
}

// visible reports whether this page should be treated as the current value
// source for the chain-walk of §4.2: a page whose owner aborted is logically
// invisible and the walk must fall through to prev (§4.2, §7 "no partial
// commits").
func (p *deltaPage) visible() bool {
	return p.owner.Status() != StatusAborted
}

// valueAt walks the chain starting at head to recover slot k's current
// value, per §4.2. A page whose owner is still active is optimistically
// visible (the caller is expected to have already helped it to terminal
// status before relying on the result long-term, per §9's open question).
func valueAt(head *deltaPage, k int) Value {
	for p := head; p != nil; p = p.prev {
		if !p.visible() {
			continue
		}
		if p.write.get(k) {
			return p.new[k]
		}
	}
	return Unset
}

// sizeAt walks the size cell's chain the same way valueAt walks a segment's,
// skipping pages whose owner aborted, but defaults to 0 rather than Unset:
// an empty vector's size is 0, not "never written", which is what the size
// cell's own slot-0 convention means before any pushBack ever commits.
func sizeAt(head *deltaPage) uint64 {
	for p := head; p != nil; p = p.prev {
		if !p.visible() {
			continue
		}
		if p.write.get(0) {
			return uint64(p.new[0])
		}
	}
	return 0
}
