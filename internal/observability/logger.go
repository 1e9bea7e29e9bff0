// Package observability adapts the CFDP core's narrow ports.Reporter
// interface onto the daemon's concrete telemetry stack: zerolog for
// structured logs, Prometheus for counters/gauges, OpenTelemetry for spans.
// The core (internal/cfdp/*) never imports this package directly — it only
// ever sees the ports.Reporter interface, constructed here and handed in by
// daemon/cmd/cfdpd's wiring.
package observability

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/cfdp-go/engine/internal/cfdp/ports"
)

// Logger wraps zerolog for structured logging and implements ports.Reporter,
// so the engine can emit events through it without knowing zerolog exists.
type Logger struct {
	logger zerolog.Logger
}

// NewLogger creates a new structured logger with service/version/host
// context attached to every line, the way the teacher's daemon did.
func NewLogger(service, version string, output io.Writer) *Logger {
	if output == nil {
		output = os.Stdout
	}

	zerolog.TimeFieldFormat = time.RFC3339

	logger := zerolog.New(output).With().
		Timestamp().
		Str("service", service).
		Str("version", version).
		Str("host", getHostname()).
		Logger()

	return &Logger{logger: logger}
}

// WithChannel adds channel context to logger, e.g. once per Channel.
func (l *Logger) WithChannel(channel string) *Logger {
	return &Logger{logger: l.logger.With().Str("channel", channel).Logger()}
}

// WithPeer adds peer_eid context to logger.
func (l *Logger) WithPeer(peerEID uint64) *Logger {
	return &Logger{logger: l.logger.With().Uint64("peer_eid", peerEID).Logger()}
}

// WithTransaction adds txn context to logger.
func (l *Logger) WithTransaction(key string) *Logger {
	return &Logger{logger: l.logger.With().Str("txn", key).Logger()}
}

// Event implements ports.Reporter: the event id becomes the log message,
// fields are attached as structured key/value pairs, severity selects the
// zerolog level.
func (l *Logger) Event(id string, severity ports.Severity, fields ...ports.Field) {
	var ev *zerolog.Event
	switch severity {
	case ports.SeverityDebug:
		ev = l.logger.Debug()
	case ports.SeverityError:
		ev = l.logger.Error()
	default:
		ev = l.logger.Info()
	}
	for _, f := range fields {
		ev = ev.Interface(f.Key, f.Value)
	}
	ev.Msg(id)
}

func getHostname() string {
	hostname, err := os.Hostname()
	if err != nil {
		return "unknown"
	}
	return hostname
}
