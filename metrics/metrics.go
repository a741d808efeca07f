// Package metrics exposes Prometheus counters for the buffer pool and the
// lock manager. Collectors are registered against the supplied Registerer;
// a nil Registerer leaves them unregistered but still usable.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "bustub"

type BufferPool struct {
	Hits       prometheus.Counter
	Misses     prometheus.Counter
	Evictions  prometheus.Counter
	WriteBacks prometheus.Counter
	Exhausted  prometheus.Counter
}

func NewBufferPool(reg prometheus.Registerer) *BufferPool {
	m := &BufferPool{
		Hits:       newCounter("bufferpool", "hits_total", "Page fetches served from a resident frame."),
		Misses:     newCounter("bufferpool", "misses_total", "Page fetches that had to read from the page store."),
		Evictions:  newCounter("bufferpool", "evictions_total", "Frames reclaimed from the replacer."),
		WriteBacks: newCounter("bufferpool", "write_backs_total", "Dirty pages written back to the page store."),
		Exhausted:  newCounter("bufferpool", "exhausted_total", "Requests that failed because every frame was pinned."),
	}
	register(reg, m.Hits, m.Misses, m.Evictions, m.WriteBacks, m.Exhausted)
	return m
}

type LockManager struct {
	Waits           prometheus.Counter
	ProtocolAborts  prometheus.Counter
	DeadlockAborts  prometheus.Counter
	DetectionRounds prometheus.Counter
}

func NewLockManager(reg prometheus.Registerer) *LockManager {
	m := &LockManager{
		Waits:           newCounter("lockmanager", "waits_total", "Lock requests that had to block before being granted."),
		ProtocolAborts:  newCounter("lockmanager", "protocol_aborts_total", "Transactions aborted for violating two-phase locking."),
		DeadlockAborts:  newCounter("lockmanager", "deadlock_aborts_total", "Transactions aborted to break a wait-for cycle."),
		DetectionRounds: newCounter("lockmanager", "detection_rounds_total", "Deadlock detection passes over the lock table."),
	}
	register(reg, m.Waits, m.ProtocolAborts, m.DeadlockAborts, m.DetectionRounds)
	return m
}

func newCounter(subsystem, name, help string) prometheus.Counter {
	return prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      name,
		Help:      help,
	})
}

func register(reg prometheus.Registerer, collectors ...prometheus.Collector) {
	if reg == nil {
		return
	}
	reg.MustRegister(collectors...)
}
