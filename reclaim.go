package transvec

import "github.com/go-kit/log/level"

// reclaimWorker bounds DeltaPage chain growth the way the teacher's
// queues.go bounds B-tree delta chains: a background goroutine drains a
// notification queue and, once a chain grows past Config.MaxDeltaCount,
// collapses it into a single consolidated page built from the chain's
// current values (see consolidateSegment/consolidateSize).
//
// Go's garbage collector already satisfies the module's "no reader observes
// freed memory" contract on its own — a detached chain stays alive for as
// long as any goroutine's local variable still points into it. So unlike a
// hazard-pointer or epoch scheme in a non-GC'd language, reclaimWorker's job
// is purely to bound memory growth and chain-walk latency, not to guard
// against use-after-free.
type reclaimWorker struct {
	tv *TransactionalVector

	segQueue  chan int
	sizeQueue chan struct{}
	closed    chan struct{}
}

// consolidatedOwner is a permanently-committed Descriptor used as the owner
// of every consolidated page the reclamation worker builds. Its identity is
// never observed by user code; it only needs to report StatusCommitted so
// the chain-walk in valueAt treats consolidated pages as visible.
var consolidatedOwner = func() *Descriptor {
	d := &Descriptor{}
	d.status.Store(int32(StatusCommitted))
	d.resultsPublished.Store(true)
	return d
}()

func newReclaimWorker(tv *TransactionalVector) *reclaimWorker {
	w := &reclaimWorker{
		tv:        tv,
		segQueue:  make(chan int, tv.config.ReclaimQueueSize),
		sizeQueue: make(chan struct{}, tv.config.ReclaimQueueSize),
		closed:    make(chan struct{}),
	}
	go w.loop()
	return w
}

func (w *reclaimWorker) loop() {
	for {
		select {
		case <-w.closed:
			return
		case seg := <-w.segQueue:
			w.consolidateSegment(seg)
		case <-w.sizeQueue:
			w.consolidateSize()
		}
	}
}

func (w *reclaimWorker) close() {
	close(w.closed)
}

// notifySegment schedules segment seg for a consolidation check. Sends are
// non-blocking: if the queue is full, the next install of seg will renotify
// it, so a dropped notification only delays consolidation, not correctness.
func (w *reclaimWorker) notifySegment(seg int) {
	select {
	case w.segQueue <- seg:
	default:
	}
}

func (w *reclaimWorker) notifySize() {
	select {
	case w.sizeQueue <- struct{}{}:
	default:
	}
}

// chainDepth counts the visible pages from head to the end of its chain.
func chainDepth(head *deltaPage) int {
	n := 0
	for p := head; p != nil; p = p.prev {
		if p.visible() {
			n++
		}
	}
	return n
}

// consolidateSegment implements the per-segment analogue of the teacher's
// consolidate(): if seg's chain has grown past MaxDeltaCount, replay the
// chain-walk for every slot and CAS a single flattened page over the whole
// chain. A concurrent installer racing the CAS simply wins or loses the
// usual way; on loss we retry against the new head, since it may again be
// due for consolidation.
func (w *reclaimWorker) consolidateSegment(seg int) {
	tv := w.tv
	segSize := tv.config.SegSize
	for {
		head := tv.vector.read(seg)
		depth := chainDepth(head)
		if depth <= tv.config.MaxDeltaCount {
			return
		}

		newPage := newDeltaPage(consolidatedOwner, segSize)
		for k := 0; k < segSize; k++ {
			newPage.write.set(k)
			newPage.new[k] = valueAt(head, k)
		}

		if tv.vector.tryWrite(seg, head, newPage) {
			if tv.config.Metrics != nil {
				tv.config.Metrics.ReclaimedPages.Add(float64(depth - 1))
			}
			level.Debug(tv.config.logger()).Log("msg", "consolidated segment", "segment", seg, "depth", depth)
			return
		}
	}
}

// consolidateSize is consolidateSegment's analogue for the single-slot size
// cell (§4.4).
func (w *reclaimWorker) consolidateSize() {
	tv := w.tv
	for {
		head := tv.sizeHead.Load()
		depth := chainDepth(head)
		if depth <= tv.config.MaxDeltaCount {
			return
		}

		newPage := newDeltaPage(consolidatedOwner, 1)
		newPage.write.set(0)
		newPage.new[0] = Value(sizeAt(head))

		if tv.sizeHead.CompareAndSwap(head, newPage) {
			if tv.config.Metrics != nil {
				tv.config.Metrics.ReclaimedPages.Add(float64(depth - 1))
			}
			level.Debug(tv.config.logger()).Log("msg", "consolidated size cell", "depth", depth)
			return
		}
	}
}
