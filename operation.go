package transvec

import (
	"fmt"
	"math"
	"sync/atomic"
)

// Value is the fixed-width element type stored in the vector (§1 Non-goals:
// the element type is not dynamic). Unset is the reserved sentinel meaning
// "never written" or "popped"; it is disjoint from any legitimate user value.
type Value uint64

// Unset is the reserved sentinel value. Callers must never pass it as a
// genuine element value.
const Unset Value = math.MaxUint64

// OpType identifies the kind of a single transaction operation (§6).
type OpType int

const (
	OpRead OpType = iota
	OpWrite
	OpPushBack
	OpPopBack
	OpSize
	OpReserve
)

func (t OpType) String() string {
	switch t {
	case OpRead:
		return "read"
	case OpWrite:
		return "write"
	case OpPushBack:
		return "pushBack"
	case OpPopBack:
		return "popBack"
	case OpSize:
		return "size"
	case OpReserve:
		return "reserve"
	default:
		return "unknown"
	}
}

// Operation is a single user-generated action within a transaction (§6).
type Operation struct {
	Type OpType
	// Index is the absolute slot for read/write, the reserve target for
	// reserve, and (by convention, see §4.3) the operation's own output slot
	// for size.
	Index uint64
	// Val is the value written by write/pushBack. popBack always forces this
	// to Unset during preprocessing.
	Val Value
	// Ret holds the return value for read and popBack once the transaction
	// has committed and published results (size returns via Index instead).
	// Only safe to read via Descriptor.Result, which checks resultsPublished
	// first.
	Ret Value
}

func (o Operation) String() string {
	return fmt.Sprintf("%s(index=%d, val=%d, ret=%d)", o.Type, o.Index, o.Val, o.Ret)
}

// Status is the terminal/non-terminal state of a Descriptor (§4.8).
type Status int32

const (
	StatusActive Status = iota
	StatusCommitted
	StatusAborted
)

func (s Status) String() string {
	switch s {
	case StatusActive:
		return "active"
	case StatusCommitted:
		return "committed"
	case StatusAborted:
		return "aborted"
	default:
		return "unknown"
	}
}

// Descriptor is the transaction record shared between its submitter and any
// helpers (§3 Descriptor, §4.8). Construct with NewDescriptor; fields beyond
// Ops are managed internally by TransactionalVector.
type Descriptor struct {
	Ops []Operation

	status atomic.Int32
	rwset  atomic.Pointer[rwSet]

	resultsPublished atomic.Bool
	abortErr         atomic.Pointer[error]

	// version and isConflictFree support the §4.6 read fast path.
	version        atomic.Uint64
	isConflictFree bool
	helpAttempts   atomic.Int64
}

// NewDescriptor builds a Descriptor for the given operation list. Passing an
// all-read op list with markConflictFree=true opts into the §4.6 fast path;
// it is ignored (falls back to the normal path) if any op is not an absolute
// read.
func NewDescriptor(ops []Operation, markConflictFree bool) *Descriptor {
	d := &Descriptor{Ops: ops}
	d.status.Store(int32(StatusActive))
	if markConflictFree {
		allReads := true
		for _, op := range ops {
			if op.Type != OpRead {
				allReads = false
				break
			}
		}
		d.isConflictFree = allReads
	}
	return d
}

// Status returns the descriptor's current status.
func (d *Descriptor) Status() Status {
	return Status(d.status.Load())
}

func (d *Descriptor) casStatus(from, to Status) bool {
	return d.status.CompareAndSwap(int32(from), int32(to))
}

func (d *Descriptor) abort(cause error) {
	if d.casStatus(StatusActive, StatusAborted) {
		d.abortErr.Store(&cause)
	}
}

// Err returns the reason a descriptor aborted, or nil if it committed or is
// still active.
func (d *Descriptor) Err() error {
	if p := d.abortErr.Load(); p != nil {
		return *p
	}
	return nil
}

// Result returns the value produced by operation i (read/popBack return via
// Ret; size returns via Index per §4.3's convention). It returns
// ErrNotTerminal while the descriptor is still active or its results are not
// yet published. If the transaction aborted, it returns the recorded abort
// cause (see Err), or ErrAborted when no cause is recorded.
func (d *Descriptor) Result(i int) (Value, error) {
	if i < 0 || i >= len(d.Ops) {
		return 0, fmt.Errorf("transvec: operation index %d out of range [0,%d)", i, len(d.Ops))
	}
	switch d.Status() {
	case StatusAborted:
		if err := d.Err(); err != nil {
			return 0, err
		}
		return 0, ErrAborted
	case StatusActive:
		return 0, ErrNotTerminal
	}
	if !d.resultsPublished.Load() {
		return 0, ErrNotTerminal
	}
	op := d.Ops[i]
	if op.Type == OpSize {
		return Value(op.Index), nil
	}
	return op.Ret, nil
}

func (d *Descriptor) String() string {
	s := fmt.Sprintf("Descriptor status=%s ops=%d\n", d.Status(), len(d.Ops))
	for i, op := range d.Ops {
		s += fmt.Sprintf("  [%d] %s\n", i, op)
	}
	return s
}
