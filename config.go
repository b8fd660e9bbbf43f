package transvec

import (
	"errors"

	"github.com/go-kit/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// DefaultConfig is used whenever a nil Config is passed to New.
var DefaultConfig = Config{
	SegSize:           16,
	FirstBucketSize:   8,
	HighToLow:         true,
	ConflictFreeReads: true,
	Helping:           true,
	HelpSpinLimit:     64,
	MaxDeltaCount:     32,
	ReclaimQueueSize:  256,
}

// Config holds configuration options for TransactionalVector.
type Config struct {
	// SegSize is the number of slots per segment, the unit of versioning and
	// contention (§4.3/§4.5). Must be a power of two.
	SegSize int
	// FirstBucketSize is the capacity of SegmentedVector's first bucket,
	// also required to be a power of two (§4.1).
	FirstBucketSize int
	// HighToLow selects the fixed global segment install order (§4.5):
	// descending by segment index when true, ascending when false. All
	// transactions in a process must use the same order.
	HighToLow bool
	// ConflictFreeReads enables the read-only fast path of §4.6.
	ConflictFreeReads bool
	// Helping enables helper-driven abort of stalled descriptors (§4.7).
	// When false, a thread that encounters an active owner still performs
	// its installation work on the owner's behalf, but never force-aborts it
	// on a timeout.
	Helping bool
	// HelpSpinLimit bounds how many help attempts may find a descriptor's
	// RWSet still unpublished before a helper is entitled to abort that
	// stalled descriptor (§4.7 step 1). The count is kept per descriptor,
	// across all helpers.
	HelpSpinLimit int

	// MaxDeltaCount bounds how many live DeltaPages a segment's (or the size
	// cell's) chain may carry before the background reclamation worker
	// collapses it into a single consolidated page (see reclaim.go).
	MaxDeltaCount int
	// ReclaimQueueSize sizes the buffered channels the reclamation worker
	// drains; a full queue simply drops the notification, since the next
	// install of that segment will renotify it.
	ReclaimQueueSize int

	// Logger receives structured diagnostics for helper force-aborts and
	// reclamation. Defaults to a no-op logger.
	Logger log.Logger
	// Metrics, if non-nil, records per-phase timings and outcome counters.
	Metrics *Metrics
}

// Verify returns an error if an invariant is violated.
func (c Config) Verify() error {
	if c.SegSize <= 0 || c.SegSize&(c.SegSize-1) != 0 {
		return errors.New("SegSize must be a positive power of two")
	}
	if c.FirstBucketSize <= 0 || c.FirstBucketSize&(c.FirstBucketSize-1) != 0 {
		return errors.New("FirstBucketSize must be a positive power of two")
	}
	if c.HelpSpinLimit <= 0 {
		return errors.New("HelpSpinLimit must be positive")
	}
	if c.MaxDeltaCount <= 0 {
		return errors.New("MaxDeltaCount must be positive")
	}
	if c.ReclaimQueueSize <= 0 {
		return errors.New("ReclaimQueueSize must be positive")
	}
	return nil
}

func (c Config) logger() log.Logger {
	if c.Logger == nil {
		return log.NewNopLogger()
	}
	return c.Logger
}

// Metrics is the optional, opt-in observability shim named in §6 as an
// out-of-scope collaborator. It is never required for correctness; a nil
// *Metrics disables all instrumentation.
type Metrics struct {
	PreprocessSeconds prometheus.Histogram
	InstallSeconds    prometheus.Histogram
	TotalSeconds      prometheus.Histogram
	Commits           prometheus.Counter
	Aborts            *prometheus.CounterVec
	HelpEvents        prometheus.Counter
	ReclaimedPages    prometheus.Counter
}

// NewMetrics registers a Metrics set against reg, following the
// promauto.With(reg).New* style used throughout the retrieval pack's
// write-ahead-log metrics.
func NewMetrics(reg prometheus.Registerer, namespace string) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		PreprocessSeconds: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "preprocess_seconds",
			Help:      "Time spent building a transaction's RWSet.",
		}),
		InstallSeconds: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "install_seconds",
			Help:      "Time spent installing DeltaPages for a transaction.",
		}),
		TotalSeconds: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "transaction_seconds",
			Help:      "Total time spent executing a transaction end to end.",
		}),
		Commits: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commits_total",
			Help:      "Number of transactions that reached status=committed.",
		}),
		Aborts: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "aborts_total",
			Help:      "Number of transactions that reached status=aborted, by reason.",
		}, []string{"reason"}),
		HelpEvents: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "help_events_total",
			Help:      "Number of times a thread helped another descriptor to a terminal status.",
		}),
		ReclaimedPages: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reclaimed_pages_total",
			Help:      "Number of DeltaPages freed by the reclamation worker.",
		}),
	}
}
