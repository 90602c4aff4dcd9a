// Package metrics exposes the counters a low-latency injector can afford
// to keep: the datapath's own values are plain Prometheus counters
// incremented with Inc, never observed on the hot path; the classifier's
// stats map is mirrored into gauges by a background scraper
// (ebpfstats.go).
package metrics

import (
	"context"
	"net"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Counters groups the datapath counters. The poll loop, the QUIC adapter
// and the FILL-drop callback increment all of them except
// CompletionDrained, which is registered but incremented by no caller.
type Counters struct {
	RXDequeued        prometheus.Counter
	FillRecycleDrops  prometheus.Counter
	TXSubmitted       prometheus.Counter
	TXBackpressure    prometheus.Counter
	CompletionDrained prometheus.Counter
	QUICProtocolError prometheus.Counter
}

// New registers the counter set against its own registry, independent of
// the default global registry, so tests can construct throwaway
// instances without colliding.
func New() (*Counters, *prometheus.Registry) {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	c := &Counters{
		RXDequeued: factory.NewCounter(prometheus.CounterOpts{
			Name: "afterburner_rx_dequeued_total",
			Help: "Frames dequeued from the RX ring.",
		}),
		FillRecycleDrops: factory.NewCounter(prometheus.CounterOpts{
			Name: "afterburner_fill_recycle_drops_total",
			Help: "Frames that could not be recycled onto the FILL ring because it was full.",
		}),
		TXSubmitted: factory.NewCounter(prometheus.CounterOpts{
			Name: "afterburner_tx_submitted_total",
			Help: "Frames submitted to the TX ring.",
		}),
		TXBackpressure: factory.NewCounter(prometheus.CounterOpts{
			Name: "afterburner_tx_backpressure_total",
			Help: "Poll loop ticks where GetTXFrame returned nil due to TX backpressure or frame exhaustion.",
		}),
		CompletionDrained: factory.NewCounter(prometheus.CounterOpts{
			Name: "afterburner_completion_drained_total",
			Help: "Frames reclaimed from the COMPLETION ring.",
		}),
		QUICProtocolError: factory.NewCounter(prometheus.CounterOpts{
			Name: "afterburner_quic_protocol_errors_total",
			Help: "Non-fatal QUIC protocol errors observed by the driver adapter.",
		}),
	}
	return c, reg
}

// Serve starts the /metrics endpoint on addr, off the hot path, and
// blocks until ctx is cancelled or the listener fails. It listens on addr
// as given and does not check that it is a loopback address.
func Serve(ctx context.Context, addr string, reg *prometheus.Registry) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Handler: mux}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(lis) }()

	select {
	case <-ctx.Done():
		return srv.Close()
	case err := <-errCh:
		return err
	}
}
