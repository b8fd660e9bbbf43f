package transvec

import (
	"math"
	"sort"
	"time"
)

// checkBoundsState tracks §4.3's three-valued checkBounds field for a slot:
// unset until the first op touching it decides whether a bounds check is
// required.
type checkBoundsState int8

const (
	cbUnset checkBoundsState = iota
	cbYes
	cbNo
)

// slotPlan accumulates everything RWSet learns about a single (segment,
// slot) pair while walking a transaction's operation list (§4.3).
type slotPlan struct {
	readers     []int
	lastWrite   int
	checkBounds checkBoundsState
}

func newSlotPlan() *slotPlan {
	return &slotPlan{lastWrite: -1}
}

// rwSet is a transaction's thread-local staging area: it groups operations
// by segment, collapses each slot to one effective write and a read list,
// and materializes the per-segment DeltaPages to install (§4.3).
type rwSet struct {
	segSize int
	groups  map[int]map[int]*slotPlan
	segIdx  []int

	maxReserve uint64

	sizeTouched bool
	sizePage    *deltaPage
	finalSize   uint64

	pages map[int]*deltaPage
}

func newRWSet(segSize int) *rwSet {
	return &rwSet{
		segSize: segSize,
		groups:  make(map[int]map[int]*slotPlan),
	}
}

func (rs *rwSet) segSlot(index uint64) (seg, slot int) {
	s := rs.segSize
	return int(index) / s, int(index) % s
}

func (rs *rwSet) plan(index uint64) *slotPlan {
	seg, slot := rs.segSlot(index)
	slots, ok := rs.groups[seg]
	if !ok {
		slots = make(map[int]*slotPlan)
		rs.groups[seg] = slots
		rs.segIdx = append(rs.segIdx, seg)
	}
	p, ok := slots[slot]
	if !ok {
		p = newSlotPlan()
		slots[slot] = p
	}
	return p
}

// preprocess converts desc's operation list into this RWSet's grouped plan
// (§4.3). It is split into two passes: resolveSize first walks only the
// size-relative ops (pushBack/popBack/size) to pin down their absolute
// indices against a CAS-acquired size baseline (§4.4); process then walks
// every operation, in original transaction order, now that every op has a
// known absolute index, building the per-slot plan exactly as described in
// §4.3. See DESIGN.md for why the size CAS happens before this second pass
// rather than being finalized afterward as the original C++ does in place.
func (rs *rwSet) preprocess(desc *Descriptor, tv *TransactionalVector) error {
	resolved, err := rs.resolveSize(desc, tv)
	if err != nil {
		return err
	}

	for i := range desc.Ops {
		op := &desc.Ops[i]
		switch op.Type {
		case OpRead:
			p := rs.plan(op.Index)
			if p.lastWrite != -1 {
				val := desc.Ops[p.lastWrite].Val
				op.Ret = val
				if val == Unset {
					err := ErrUnsetForwarded
					desc.abort(err)
					return err
				}
			} else {
				if p.checkBounds == cbUnset {
					p.checkBounds = cbYes
				}
				p.readers = append(p.readers, i)
			}
		case OpWrite:
			p := rs.plan(op.Index)
			if p.checkBounds == cbUnset {
				p.checkBounds = cbYes
			}
			p.lastWrite = i
		case OpPushBack:
			idx := resolved[i]
			p := rs.plan(idx)
			if p.checkBounds == cbUnset {
				p.checkBounds = cbNo
			}
			p.lastWrite = i
		case OpPopBack:
			idx := resolved[i]
			p := rs.plan(idx)
			if p.lastWrite != -1 {
				op.Ret = desc.Ops[p.lastWrite].Val
			} else {
				p.readers = append(p.readers, i)
			}
			op.Val = Unset
			if p.checkBounds == cbUnset {
				p.checkBounds = cbNo
			}
			p.lastWrite = i
		case OpReserve:
			if op.Index > rs.maxReserve {
				rs.maxReserve = op.Index
			}
		case OpSize:
			// Already resolved by resolveSize; nothing touches a data
			// segment here.
		}
	}
	return nil
}

// resolveSize implements §4.4: it acquires the transaction's local size
// baseline (helping a stalled owner if necessary), replays every
// pushBack/popBack/size op against that baseline to assign each one a final
// absolute index (and each size op its Index result directly), and installs
// the finalized size DeltaPage via CAS. The arithmetic replay touches no
// shared memory, so retrying it on a lost CAS race is cheap and safe.
func (rs *rwSet) resolveSize(desc *Descriptor, tv *TransactionalVector) (map[int]uint64, error) {
	var sizeIdx []int
	for i, op := range desc.Ops {
		if op.Type == OpPushBack || op.Type == OpPopBack || op.Type == OpSize {
			sizeIdx = append(sizeIdx, i)
		}
	}
	if len(sizeIdx) == 0 {
		return nil, nil
	}
	rs.sizeTouched = true

	b := tv.newBackoff()
	for {
		head := tv.sizeHead.Load()
		if head != nil && head.owner != desc && head.owner.Status() == StatusActive {
			tv.help(head.owner)
			time.Sleep(b.Duration())
			continue
		}

		baseline := sizeAt(head)

		local := baseline
		resolved := make(map[int]uint64, len(sizeIdx))
		for _, i := range sizeIdx {
			op := &desc.Ops[i]
			switch op.Type {
			case OpPushBack:
				if local == math.MaxUint64 {
					err := ErrSizeOverflow
					desc.abort(err)
					return nil, err
				}
				resolved[i] = local
				local++
			case OpPopBack:
				if local == 0 {
					err := ErrPopEmpty
					desc.abort(err)
					return nil, err
				}
				local--
				resolved[i] = local
			case OpSize:
				op.Index = local
			}
		}

		page := newDeltaPage(desc, 1)
		page.read.set(0)
		page.write.set(0)
		page.old[0] = Value(baseline)
		page.new[0] = Value(local)
		page.prev = head

		if tv.sizeHead.CompareAndSwap(head, page) {
			rs.sizePage = page
			rs.finalSize = local
			tv.reclaim.notifySize()
			return resolved, nil
		}
	}
}

// materialize builds one DeltaPage per touched segment (§4.3 Materialize)
// and calls SegmentedVector.reserve once for the largest index this
// transaction will need, whether from an explicit reserve() op or from its
// own pushBacks. old[], prev, and final chaining are left for install time
// (§4.5).
func (rs *rwSet) materialize(desc *Descriptor, tv *TransactionalVector) {
	rs.pages = make(map[int]*deltaPage, len(rs.groups))
	for seg, slots := range rs.groups {
		page := newDeltaPage(desc, rs.segSize)
		for slot, p := range slots {
			if len(p.readers) > 0 {
				page.read.set(slot)
			}
			if p.lastWrite != -1 {
				page.write.set(slot)
				page.new[slot] = desc.Ops[p.lastWrite].Val
			}
			if p.checkBounds == cbYes {
				page.checkBounds.set(slot)
			}
		}
		rs.pages[seg] = page
	}

	elementsNeeded := rs.maxReserve
	if rs.finalSize > elementsNeeded {
		elementsNeeded = rs.finalSize
	}
	if elementsNeeded > 0 {
		segsNeeded := (elementsNeeded + uint64(rs.segSize) - 1) / uint64(rs.segSize)
		tv.vector.reserve(int(segsNeeded))
	}

	sort.Ints(rs.segIdx)
}

// orderedSegments returns the touched segment indices in the fixed global
// install order (§4.5): ascending when highToLow is false, descending when
// true.
func (rs *rwSet) orderedSegments(highToLow bool) []int {
	out := make([]int, len(rs.segIdx))
	copy(out, rs.segIdx)
	if highToLow {
		sort.Sort(sort.Reverse(sort.IntSlice(out)))
	} else {
		sort.Ints(out)
	}
	return out
}

// publishResults copies each queued reader's old value into its Ret field
// (§4.6). Called once, after commit, guarded by Descriptor.resultsPublished.
func (rs *rwSet) publishResults(desc *Descriptor) {
	for seg, slots := range rs.groups {
		page := rs.pages[seg]
		for slot, p := range slots {
			if len(p.readers) == 0 {
				continue
			}
			val := page.old[slot]
			for _, opIdx := range p.readers {
				desc.Ops[opIdx].Ret = val
			}
		}
	}
}
