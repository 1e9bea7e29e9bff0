package observability

import (
	"github.com/google/uuid"

	"github.com/cfdp-go/engine/internal/cfdp/ports"
)

// Reporter fans one engine event out to both the structured logger and the
// Prometheus counters, so daemon/cmd/cfdpd only has to construct and wire a
// single ports.Reporter even though logging and metrics are separate
// concerns underneath. Every event is stamped with this process's
// instance ID so log lines and traces from two daemons sharing a peer
// EID can still be told apart — spec.md's transaction Key stays purely
// numeric (SourceEID+Seq); this correlation id lives only in the
// observability side-channel.
type Reporter struct {
	Log        *Logger
	Metrics    *Metrics
	InstanceID string
}

// NewReporter builds a fan-out Reporter from an already-constructed Logger
// and Metrics pair, stamping a fresh random instance ID.
func NewReporter(log *Logger, metrics *Metrics) *Reporter {
	return &Reporter{Log: log, Metrics: metrics, InstanceID: uuid.NewString()}
}

func (r *Reporter) Event(id string, severity ports.Severity, fields ...ports.Field) {
	fields = append(fields, ports.F("instance_id", r.InstanceID))
	if r.Log != nil {
		r.Log.Event(id, severity, fields...)
	}
	if r.Metrics != nil {
		r.Metrics.Event(id, severity, fields...)
	}
}
