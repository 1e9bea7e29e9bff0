// Command cfdpd is the CFDP engine daemon entrypoint: it loads
// daemon/config, wires internal/observability, internal/ratelimit, and
// daemon/transport's QUICBus into one internal/cfdp/engine.Engine, then
// drives it with a fixed-interval Wakeup loop — the same
// load-config/wire-adapters/run-loop shape as the teacher's own
// daemon/main.go, generalized from QuantaraX's session-oriented startup to
// the CFDP engine's wakeup scheduler.
package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/quic-go/quic-go"

	"github.com/cfdp-go/engine/daemon/config"
	"github.com/cfdp-go/engine/daemon/localfile"
	"github.com/cfdp-go/engine/daemon/transport"
	"github.com/cfdp-go/engine/internal/cfdp/engine"
	"github.com/cfdp-go/engine/internal/cfdp/ports"
	"github.com/cfdp-go/engine/internal/observability"
	"github.com/cfdp-go/engine/internal/quicutil"
	"github.com/cfdp-go/engine/internal/ratelimit"
)

func main() {
	cfgPath := flag.String("config", "", "path to YAML engine configuration (defaults if absent)")
	listenAddr := flag.String("listen", "127.0.0.1:4242", "QUIC listen address")
	wakeupInterval := flag.Duration("wakeup-interval", time.Second, "interval between engine wakeups")
	metricsAddr := flag.String("metrics-listen", "", "optional HTTP address to serve /metrics on")
	flag.Parse()

	cfgFile, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatalf("cfdpd: load config: %v", err)
	}
	top, err := cfgFile.ToTopConfig()
	if err != nil {
		log.Fatalf("cfdpd: validate config: %v", err)
	}

	logger := observability.NewLogger("cfdpd", "dev", os.Stdout)
	metrics := observability.NewMetrics()
	reporter := observability.NewReporter(logger, metrics)

	if *metricsAddr != "" {
		go func() {
			if err := serveMetrics(*metricsAddr, metrics); err != nil {
				logger.Event("cfdpd.metrics_server_failed", ports.SeverityError, ports.F("err", err.Error()))
			}
		}()
	}

	conn, err := acceptOnePeer(*listenAddr)
	if err != nil {
		log.Fatalf("cfdpd: accept peer on %s: %v", *listenAddr, err)
	}
	bus := transport.NewQUICBus(conn)
	go acceptInboundStreams(conn, bus, cfgFile, reporter)

	buses := make([]ports.Bus, len(top.Channels))
	throttles := make([]ports.Throttle, len(top.Channels))
	for i, ch := range cfgFile.Channels {
		buses[i] = bus
		rate := ch.ThrottleRatePerSec
		burst := ch.ThrottleBurst
		if burst <= 0 {
			burst = 1
		}
		throttles[i] = ratelimit.NewTokenBucket(rate, burst)
	}

	eng, err := engine.New(*top, localfile.New(), reporter, buses, throttles)
	if err != nil {
		log.Fatalf("cfdpd: construct engine: %v", err)
	}

	runLoop(eng, metrics, *wakeupInterval)
}

// runLoop drives the engine's Wakeup on a fixed tick, recording pool
// utilization and wakeup duration to Metrics each cycle.
func runLoop(eng *engine.Engine, metrics *observability.Metrics, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for range ticker.C {
		start := time.Now()
		eng.Wakeup()
		metrics.RecordWakeup(time.Since(start).Seconds())
		metrics.RecordPoolUtilization(eng.PoolUsed(), eng.PoolCapacity())
	}
}

// acceptOnePeer listens for and accepts a single incoming QUIC connection
// using a freshly generated self-signed development certificate. A
// production deployment supplies its own certificate via
// quicutil.MakeServerTLSConfig instead of GenerateSelfSignedCert.
func acceptOnePeer(addr string) (*quic.Conn, error) {
	certPEM, keyPEM, err := quicutil.GenerateSelfSignedCert()
	if err != nil {
		return nil, err
	}
	tlsCfg, err := quicutil.MakeServerTLSConfig(certPEM, keyPEM)
	if err != nil {
		return nil, err
	}
	listener, err := quic.ListenAddr(addr, tlsCfg, &quic.Config{
		KeepAlivePeriod: 10 * time.Second,
		MaxIdleTimeout:  60 * time.Second,
	})
	if err != nil {
		return nil, err
	}
	return listener.Accept(context.Background())
}

// acceptInboundStreams accepts every stream the peer opens, reads its
// MID-announcement header, and registers it against bus so Wakeup's
// drainInbound can start pulling frames from it.
func acceptInboundStreams(conn *quic.Conn, bus *transport.QUICBus, cfgFile *config.File, reporter ports.Reporter) {
	ctx := context.Background()
	for {
		stream, err := conn.AcceptStream(ctx)
		if err != nil {
			reporter.Event("cfdpd.accept_stream_failed", ports.SeverityError, ports.F("err", err.Error()))
			return
		}
		mid, err := transport.ReadMID(stream)
		if err != nil {
			reporter.Event("cfdpd.mid_header_failed", ports.SeverityError, ports.F("err", err.Error()))
			continue
		}
		bus.RegisterInbound(mid, stream, inputPipeDepth(cfgFile, mid))
	}
}

// serveMetrics exposes Metrics.Handler() (promhttp) on addr. Plain
// net/http is the teacher's own choice for this — Prometheus's client
// library is already the metrics dependency; an HTTP framework on top of
// it would add nothing for a single /metrics route.
func serveMetrics(addr string, metrics *observability.Metrics) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	return http.ListenAndServe(addr, mux)
}

func inputPipeDepth(cfgFile *config.File, mid string) int {
	for _, ch := range cfgFile.Channels {
		if ch.InputMID == mid {
			if ch.InputPipeDepth > 0 {
				return ch.InputPipeDepth
			}
			break
		}
	}
	return 64
}
