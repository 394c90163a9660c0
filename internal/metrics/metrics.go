package metrics

import (
	"sync/atomic"
	"time"
)

// ID names one counter or histogram.
type ID uint16

const (
	LoginSuccess ID = iota
	LoginFailure
	LoginRateLimited
	LoginUnverified
	MFALoginRequired
	MFALoginSuccess
	MFALoginFailure
	SessionCreated
	RefreshSuccess
	RefreshFailure
	RefreshReuseDetected
	RefreshExpired
	Logout
	LogoutAll
	SessionsRevoked
	AuthenticateSuccess
	AuthenticateFailure
	Registered
	RegisterConflict
	EmailVerified
	EmailVerificationFailure
	VerificationResent
	PasswordResetRequest
	PasswordResetSuccess
	PasswordResetFailure
	PasswordChangeSuccess
	PasswordChangeFailure
	MFAEnrolled
	MFAConfirmed
	MFAChallengeSuccess
	MFAChallengeFailure
	MFABackupCodeUsed
	MFARateLimited
	FederatedLogin
	FederatedLinked
	FederatedCreated
	FederationFailure
	NotificationFailure
	AuthenticateLatency
	LoginLatency
	Count
)

const (
	histBucketCount = 8
	cacheLineSize   = 64
)

type histogram struct {
	buckets [histBucketCount]uint64
}

type paddedCounter struct {
	value uint64
	_     [cacheLineSize - 8]byte
}

// Config toggles collection.
type Config struct {
	Enabled                 bool
	EnableLatencyHistograms bool
}

// Metrics is safe for concurrent use. A nil *Metrics records nothing.
type Metrics struct {
	enabled       bool
	enableLatency bool
	counters      [Count]paddedCounter
	histograms    [Count]histogram
}

// Snapshot is a point-in-time copy of every counter, plus histogram
// buckets when latency collection is on.
type Snapshot struct {
	Counters   map[ID]uint64
	Histograms map[ID][]uint64
}

func New(cfg Config) *Metrics {
	return &Metrics{
		enabled:       cfg.Enabled,
		enableLatency: cfg.Enabled && cfg.EnableLatencyHistograms,
	}
}

func (m *Metrics) Enabled() bool {
	return m != nil && m.enabled
}

func (m *Metrics) Inc(id ID) {
	if m == nil || !m.enabled || id >= Count {
		return
	}
	atomic.AddUint64(&m.counters[id].value, 1)
}

// Add bumps a counter by n, for bulk operations such as revoke-all.
func (m *Metrics) Add(id ID, n int) {
	if m == nil || !m.enabled || id >= Count || n <= 0 {
		return
	}
	atomic.AddUint64(&m.counters[id].value, uint64(n))
}

// Observe records d in the histogram for id. Only the latency IDs have
// histograms.
func (m *Metrics) Observe(id ID, d time.Duration) {
	if m == nil || !m.enableLatency || !isHistogram(id) {
		return
	}
	atomic.AddUint64(&m.histograms[id].buckets[bucketIndex(d)], 1)
}

func (m *Metrics) Value(id ID) uint64 {
	if m == nil || id >= Count {
		return 0
	}
	return atomic.LoadUint64(&m.counters[id].value)
}

func (m *Metrics) Snapshot() Snapshot {
	if m == nil || !m.enabled {
		return Snapshot{
			Counters:   map[ID]uint64{},
			Histograms: map[ID][]uint64{},
		}
	}

	s := Snapshot{
		Counters:   make(map[ID]uint64, int(Count)),
		Histograms: make(map[ID][]uint64, 2),
	}
	for id := ID(0); id < Count; id++ {
		if !isHistogram(id) {
			s.Counters[id] = atomic.LoadUint64(&m.counters[id].value)
		}
	}

	if m.enableLatency {
		for _, id := range []ID{AuthenticateLatency, LoginLatency} {
			buckets := make([]uint64, histBucketCount)
			for i := range buckets {
				buckets[i] = atomic.LoadUint64(&m.histograms[id].buckets[i])
			}
			s.Histograms[id] = buckets
		}
	}
	return s
}

// BucketBounds are the upper bounds of the histogram buckets; the last
// bucket is unbounded.
var BucketBounds = []time.Duration{
	5 * time.Millisecond,
	10 * time.Millisecond,
	25 * time.Millisecond,
	50 * time.Millisecond,
	100 * time.Millisecond,
	250 * time.Millisecond,
	500 * time.Millisecond,
}

func isHistogram(id ID) bool {
	return id == AuthenticateLatency || id == LoginLatency
}

func bucketIndex(d time.Duration) int {
	for i, bound := range BucketBounds {
		if d <= bound {
			return i
		}
	}
	return histBucketCount - 1
}
