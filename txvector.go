package transvec

import (
	"errors"
	"sync/atomic"
	"time"

	"github.com/go-kit/log/level"
	"github.com/jpillora/backoff"
	pkgerrors "github.com/pkg/errors"
)

// TransactionalVector is the orchestrator described in §4.6/§4.7: it drives
// preprocessing, size acquisition, page installation, and finalization for
// every transaction submitted to it, including the helping protocol and the
// conflict-free read fast path.
type TransactionalVector struct {
	config Config
	vector *segmentedVector

	// sizeHead is the size cell of §4.4: a dedicated one-slot DeltaPage chain
	// recording the size after each size-touching transaction. The head may
	// belong to an active or aborted owner; sizeAt recovers the size from it.
	sizeHead atomic.Pointer[deltaPage]

	// version is a monotone counter sampled by the §4.6 conflict-free read
	// path; it is bumped whenever a committing transaction touched any data
	// segment. A conflict-free read records the value it sampled in its
	// descriptor and does not check it again afterward.
	version atomic.Uint64

	reclaim *reclaimWorker
}

// New constructs an empty TransactionalVector, reserving at least one bucket
// and, if requested, enough buckets to hold initialCapacity elements without
// a further allocation (§6 new(initialCapacity)).
func New(initialCapacity int, c *Config) (*TransactionalVector, error) {
	if c == nil {
		cfg := DefaultConfig
		c = &cfg
	}
	if err := c.Verify(); err != nil {
		return nil, pkgerrors.Wrap(err, "transvec: invalid config")
	}

	tv := &TransactionalVector{
		config: *c,
		vector: newSegmentedVector(c.FirstBucketSize),
	}
	tv.version.Store(1)
	tv.vector.reserve(1)
	if initialCapacity > 0 {
		segs := (initialCapacity + c.SegSize - 1) / c.SegSize
		tv.vector.reserve(segs)
	}

	tv.reclaim = newReclaimWorker(tv)
	return tv, nil
}

// Close stops the background reclamation worker. It does not invalidate any
// already-installed state; it only releases the goroutine started by New.
func (tv *TransactionalVector) Close() {
	tv.reclaim.close()
}

// ExecuteTransaction blocks the calling thread until desc.Status() is
// terminal (§6). It never returns a value; callers inspect the descriptor
// via Status/Result/Err afterward.
func (tv *TransactionalVector) ExecuteTransaction(desc *Descriptor) {
	m := tv.config.Metrics
	start := time.Now()
	if m != nil {
		defer func() { m.TotalSeconds.Observe(time.Since(start).Seconds()) }()
	}
	if tv.config.ConflictFreeReads && desc.isConflictFree {
		tv.executeConflictFree(desc)
		return
	}

	rs := newRWSet(tv.config.SegSize)
	if err := rs.preprocess(desc, tv); err != nil {
		tv.recordAbort(err)
		return
	}
	rs.materialize(desc, tv)
	desc.rwset.Store(rs)
	if m != nil {
		m.PreprocessSeconds.Observe(time.Since(start).Seconds())
	}

	installStart := time.Now()
	tv.install(desc, rs, true)
	if m != nil {
		m.InstallSeconds.Observe(time.Since(installStart).Seconds())
	}
}

// GetResult returns the value produced by operation i of desc, or an error
// if it is not yet available (§6 getResult).
func (tv *TransactionalVector) GetResult(desc *Descriptor, i int) (Value, error) {
	return desc.Result(i)
}

// install runs §4.5's per-segment loop in the transaction's fixed global
// order, then attempts the commit CAS and publishes results (§4.6).
// allowHelp is true for a descriptor's own submitting thread and false when
// install is being re-run on behalf of another descriptor by help (§4.7's
// depth-1 recursion cutoff).
func (tv *TransactionalVector) install(owner *Descriptor, rs *rwSet, allowHelp bool) {
	order := rs.orderedSegments(tv.config.HighToLow)
	for _, seg := range order {
		if owner.Status() != StatusActive {
			return
		}
		if !tv.installSegment(seg, rs.pages[seg], owner, rs, allowHelp) {
			return
		}
	}
	if owner.casStatus(StatusActive, StatusCommitted) {
		rs.publishResults(owner)
		owner.resultsPublished.Store(true)
		if len(order) > 0 {
			tv.version.Add(1)
		}
		tv.recordCommit()
	}
}

// installSegment performs §4.5 steps 1-6 for a single segment, retrying the
// CAS until it succeeds or owner stops being active.
func (tv *TransactionalVector) installSegment(seg int, page *deltaPage, owner *Descriptor, rs *rwSet, allowHelp bool) bool {
	b := tv.newBackoff()
	for {
		if owner.Status() != StatusActive {
			return false
		}

		head := tv.vector.read(seg)
		if head == page {
			// Already installed by a cooperating helper; idempotent no-op.
			return true
		}
		if head != nil && head.owner != owner && head.owner.Status() == StatusActive {
			tv.assist(head.owner, allowHelp, b)
			continue
		}

		size := tv.effectiveSize(owner, rs, allowHelp, b)
		if !tv.checkBounds(page, seg, size, owner) {
			return false
		}

		tv.fillOld(page, head)
		page.prev = head

		if tv.vector.tryWrite(seg, head, page) {
			tv.reclaim.notifySegment(seg)
			return true
		}
		b2 := b.Duration()
		time.Sleep(b2)
	}
}

// checkBounds implements §4.5 step 3: every slot the page marks checkBounds
// must be strictly within the effective size, else the descriptor aborts.
func (tv *TransactionalVector) checkBounds(page *deltaPage, seg int, size uint64, owner *Descriptor) bool {
	base := uint64(seg) * uint64(tv.config.SegSize)
	for k := 0; k < tv.config.SegSize; k++ {
		if !page.checkBounds.get(k) {
			continue
		}
		if base+uint64(k) >= size {
			err := pkgerrors.Wrapf(ErrOutOfBounds, "segment %d slot %d (absolute index %d) size %d", seg, k, base+uint64(k), size)
			tv.recordAbortFor(owner, err)
			return false
		}
	}
	return true
}

// fillOld implements §4.5 step 4: for every slot this page touches, capture
// the value visible immediately before this transaction, derived from head
// via the §4.2 chain-walk.
func (tv *TransactionalVector) fillOld(page *deltaPage, head *deltaPage) {
	for k := 0; k < len(page.old); k++ {
		if page.read.get(k) || page.write.get(k) {
			page.old[k] = valueAt(head, k)
		}
	}
}

// effectiveSize returns the size this installation attempt should check
// bounds against (§4.5 step 3): the transaction's own just-acquired size if
// it touched size itself, otherwise the most recently committed size
// (helping a stalled owner along the way if Helping allows it).
func (tv *TransactionalVector) effectiveSize(owner *Descriptor, rs *rwSet, allowHelp bool, b *backoff.Backoff) uint64 {
	if rs.sizeTouched {
		return rs.finalSize
	}
	for {
		head := tv.sizeHead.Load()
		if head == nil {
			return 0
		}
		if head.owner != owner && head.owner.Status() == StatusActive {
			tv.assist(head.owner, allowHelp, b)
			continue
		}
		return sizeAt(head)
	}
}

// assist is the shared "encounter an active owner" handler used by
// installSegment and effectiveSize. A top-level caller
// (allowHelp true) helps the owner to a terminal status (§4.7); a thread
// already helping someone else (allowHelp false) instead backs off briefly,
// honoring the depth-1 recursive-helping cutoff.
func (tv *TransactionalVector) assist(other *Descriptor, allowHelp bool, b *backoff.Backoff) {
	if allowHelp {
		tv.help(other)
		return
	}
	time.Sleep(b.Duration())
}

// help drives a stalled descriptor to a terminal status on its behalf
// (§4.7). It is a no-op if owner is already terminal, if its RWSet has not
// been published yet and it hasn't stalled long enough to time out, or if
// another thread finishes it first.
func (tv *TransactionalVector) help(owner *Descriptor) {
	if owner.Status() != StatusActive {
		return
	}

	rs := owner.rwset.Load()
	if rs == nil {
		attempts := owner.helpAttempts.Add(1)
		if tv.config.Helping && attempts > int64(tv.config.HelpSpinLimit) {
			tv.recordAbortFor(owner, ErrHelperTimeout)
			level.Debug(tv.config.logger()).Log("msg", "help: force-aborted stalled descriptor", "attempts", attempts)
		}
		return
	}

	tv.recordHelp()
	// allowHelp=false: depth-1 cutoff, this thread must not itself help a
	// descriptor it encounters while helping owner.
	tv.install(owner, rs, false)
}

// executeConflictFree implements the §4.6 optional fast path: an all-read
// transaction marked conflict-free samples the current version, then walks
// each segment's head once without installing anything or blocking writers.
func (tv *TransactionalVector) executeConflictFree(desc *Descriptor) {
	desc.version.Store(tv.version.Load())
	for i := range desc.Ops {
		op := &desc.Ops[i]
		seg, slot := segSlotFor(op.Index, tv.config.SegSize)
		head := tv.vector.read(seg)
		op.Ret = valueAt(head, slot)
	}
	desc.status.Store(int32(StatusCommitted))
	desc.resultsPublished.Store(true)
	tv.recordCommit()
}

func segSlotFor(index uint64, segSize int) (seg, slot int) {
	return int(index) / segSize, int(index) % segSize
}

func (tv *TransactionalVector) newBackoff() *backoff.Backoff {
	return &backoff.Backoff{
		Min:    50 * time.Microsecond,
		Max:    2 * time.Millisecond,
		Factor: 2,
		Jitter: true,
	}
}

func (tv *TransactionalVector) recordAbort(err error) {
	if tv.config.Metrics != nil {
		tv.config.Metrics.Aborts.WithLabelValues(abortReason(err)).Inc()
	}
}

func (tv *TransactionalVector) recordAbortFor(owner *Descriptor, err error) {
	owner.abort(err)
	tv.recordAbort(err)
}

func (tv *TransactionalVector) recordCommit() {
	if tv.config.Metrics != nil {
		tv.config.Metrics.Commits.Inc()
	}
}

func (tv *TransactionalVector) recordHelp() {
	if tv.config.Metrics != nil {
		tv.config.Metrics.HelpEvents.Inc()
	}
}

func abortReason(err error) string {
	switch {
	case errors.Is(err, ErrOutOfBounds):
		return "bounds"
	case errors.Is(err, ErrPopEmpty):
		return "pop_empty"
	case errors.Is(err, ErrSizeOverflow):
		return "overflow"
	case errors.Is(err, ErrUnsetForwarded):
		return "unset_forwarded"
	case errors.Is(err, ErrHelperTimeout):
		return "help_timeout"
	default:
		return "other"
	}
}
