package metrics

import (
	"context"
	"time"

	"github.com/cilium/ebpf"
	"github.com/prometheus/client_golang/prometheus"
)

// ebpfStatsKeys are the indices the XDP classifier's PERCPU_ARRAY stats
// map uses: total frames seen, frames matching the injector's UDP port,
// frames redirected into the AF_XDP socket, and frames dropped before
// redirect (map-full or malformed frames).
const (
	ebpfStatTotalSeen = iota
	ebpfStatPortMatched
	ebpfStatRedirected
	ebpfStatDropped
	ebpfStatCount
)

// EBPFGauges mirrors the classifier's PERCPU_ARRAY counters as
// Prometheus gauges: each scrape reads the kernel's current cumulative
// totals rather than an increment, so Set is the correct update, not Add.
type EBPFGauges struct {
	TotalSeen   prometheus.Gauge
	PortMatched prometheus.Gauge
	Redirected  prometheus.Gauge
	Dropped     prometheus.Gauge
}

// NewEBPFGauges registers the classifier gauge set against reg.
func NewEBPFGauges(reg *prometheus.Registry) *EBPFGauges {
	factory := func(name, help string) prometheus.Gauge {
		g := prometheus.NewGauge(prometheus.GaugeOpts{Name: name, Help: help})
		reg.MustRegister(g)
		return g
	}
	return &EBPFGauges{
		TotalSeen:   factory("afterburner_xdp_frames_seen_total", "Frames seen by the XDP classifier, summed across CPUs."),
		PortMatched: factory("afterburner_xdp_frames_port_matched_total", "Frames matching the injector's UDP destination port."),
		Redirected:  factory("afterburner_xdp_frames_redirected_total", "Frames redirected into the AF_XDP socket."),
		Dropped:     factory("afterburner_xdp_frames_dropped_total", "Frames dropped by the classifier before redirect."),
	}
}

// ScrapeEBPFStats sums every CPU's slot of a PERCPU_ARRAY stats map and
// updates g. statsMap may be nil, in which case ScrapeEBPFStats is a
// no-op, which keeps the caller simple when the classifier object has no
// stats_map.
func ScrapeEBPFStats(statsMap *ebpf.Map, g *EBPFGauges) error {
	if statsMap == nil {
		return nil
	}

	totals := make([]uint64, ebpfStatCount)
	for i := range totals {
		key := uint32(i)
		var perCPU []uint64
		if err := statsMap.Lookup(&key, &perCPU); err != nil {
			return err
		}
		var sum uint64
		for _, v := range perCPU {
			sum += v
		}
		totals[i] = sum
	}

	g.TotalSeen.Set(float64(totals[ebpfStatTotalSeen]))
	g.PortMatched.Set(float64(totals[ebpfStatPortMatched]))
	g.Redirected.Set(float64(totals[ebpfStatRedirected]))
	g.Dropped.Set(float64(totals[ebpfStatDropped]))
	return nil
}

// RunEBPFStatsScraper polls ScrapeEBPFStats on the given interval until
// ctx is cancelled. Every scrape error is ignored: a
// classifier that stops responding to map lookups is a datapath-
// transient condition, not something worth killing the process over.
func RunEBPFStatsScraper(ctx context.Context, statsMap *ebpf.Map, g *EBPFGauges, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_ = ScrapeEBPFStats(statsMap, g)
		}
	}
}
