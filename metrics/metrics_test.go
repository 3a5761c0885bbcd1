package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"github.com/tillsync/tillsync"
	"github.com/tillsync/tillsync/entity"
)

func TestCollectorRecordsMutations(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordMutation(entity.KindProduct, tillsync.OpCreate, tillsync.OutcomeConfirmed)
	c.RecordMutation(entity.KindProduct, tillsync.OpCreate, tillsync.OutcomeConfirmed)
	c.RecordMutation(entity.KindTransaction, tillsync.OpCreate, tillsync.OutcomeQueued)

	assert.Equal(t, float64(2), testutil.ToFloat64(
		c.mutations.WithLabelValues("product", "create", "confirmed")))
	assert.Equal(t, float64(1), testutil.ToFloat64(
		c.mutations.WithLabelValues("transaction", "create", "queued")))
}

func TestCollectorRecordsReplay(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordReplay(120*time.Millisecond, 4, 1)

	assert.Equal(t, float64(4), testutil.ToFloat64(c.replayedTotal))
	assert.Equal(t, float64(1), testutil.ToFloat64(c.pending))
}

func TestCollectorRecordsConnectivity(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordConnectivity(true)
	assert.Equal(t, float64(1), testutil.ToFloat64(c.online))

	c.RecordConnectivity(false)
	assert.Equal(t, float64(0), testutil.ToFloat64(c.online))

	c.RecordPending(7)
	assert.Equal(t, float64(7), testutil.ToFloat64(c.pending))
}
