package tillsync

import (
	"time"

	"github.com/tillsync/tillsync/entity"
)

// MetricsCollector receives observability hooks from the engine. The metrics
// package provides a Prometheus implementation; NoopCollector is the default.
type MetricsCollector interface {
	// RecordMutation counts one mutation call. Outcome is one of
	// "confirmed", "queued", "rolled_back", "kept" or "rejected".
	RecordMutation(kind entity.Kind, op Operation, outcome string)

	// RecordReplay records a finished replay pass.
	RecordReplay(duration time.Duration, replayed, remaining int)

	// RecordPending reports the current outbox depth.
	RecordPending(n int)

	// RecordConnectivity reports the current online state.
	RecordConnectivity(online bool)
}

// Mutation outcomes reported to RecordMutation.
const (
	OutcomeConfirmed  = "confirmed"
	OutcomeQueued     = "queued"
	OutcomeRolledBack = "rolled_back"
	OutcomeKept       = "kept"
	OutcomeRejected   = "rejected"
)

// NoopCollector discards all metrics.
type NoopCollector struct{}

func (NoopCollector) RecordMutation(entity.Kind, Operation, string) {}
func (NoopCollector) RecordReplay(time.Duration, int, int)          {}
func (NoopCollector) RecordPending(int)                             {}
func (NoopCollector) RecordConnectivity(bool)                       {}

var _ MetricsCollector = NoopCollector{}
