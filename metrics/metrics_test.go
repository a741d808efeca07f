package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics(t *testing.T) {
	t.Run("buffer pool counters are registered", func(t *testing.T) {
		reg := prometheus.NewRegistry()
		m := NewBufferPool(reg)

		m.Hits.Inc()
		m.Hits.Inc()
		m.Misses.Inc()

		assert.Equal(t, 2.0, testutil.ToFloat64(m.Hits))
		assert.Equal(t, 1.0, testutil.ToFloat64(m.Misses))

		families, err := reg.Gather()
		require.NoError(t, err)
		assert.Len(t, families, 5)
	})

	t.Run("lock manager counters are registered", func(t *testing.T) {
		reg := prometheus.NewRegistry()
		m := NewLockManager(reg)
		m.DeadlockAborts.Inc()

		count, err := testutil.GatherAndCount(reg, "bustub_lockmanager_deadlock_aborts_total")
		require.NoError(t, err)
		assert.Equal(t, 1, count)
	})

	t.Run("nil registerer still yields usable counters", func(t *testing.T) {
		m := NewBufferPool(nil)
		m.Evictions.Inc()
		assert.Equal(t, 1.0, testutil.ToFloat64(m.Evictions))
	})
}
