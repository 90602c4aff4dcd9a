//go:build linux

// Command afterburner runs the AF_XDP QUIC transaction injector: one
// kernel-bypass socket, one QUIC connection, one poll loop, pinned to a
// single CPU core for the lifetime of the process.
package main

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cilium/ebpf/rlimit"
	"github.com/spf13/cobra"

	"github.com/lvboudre/afterburner/internal/affinity"
	"github.com/lvboudre/afterburner/internal/config"
	"github.com/lvboudre/afterburner/internal/loader"
	"github.com/lvboudre/afterburner/internal/logging"
	"github.com/lvboudre/afterburner/internal/metrics"
	"github.com/lvboudre/afterburner/internal/pollloop"
	"github.com/lvboudre/afterburner/internal/quicdriver"
	"github.com/lvboudre/afterburner/internal/txsource"
	"github.com/lvboudre/afterburner/internal/xsk"
)

func main() {
	var (
		iface      string
		queueID    uint32
		idleSleep  bool
		localAddr  string
		peerAddr   string
		peerMACHex string
		logLevel   string
		metricsBnd string
	)

	root := &cobra.Command{
		Use:   "afterburner",
		Short: "AF_XDP QUIC transaction injector",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(runtimeOpts{
				iface:      iface,
				queueID:    queueID,
				idleSleep:  idleSleep,
				localAddr:  localAddr,
				peerAddr:   peerAddr,
				peerMACHex: peerMACHex,
				logLevel:   logLevel,
				metricsBind: metricsBnd,
			})
		},
	}

	flags := root.Flags()
	flags.StringVarP(&iface, "iface", "i", "", "network interface to bind the AF_XDP socket to (required)")
	flags.Uint32VarP(&queueID, "queue", "q", config.QueueID, "NIC queue to bind (forward-compatible; this driver only ever binds one queue)")
	flags.BoolVar(&idleSleep, "idle-sleep", false, "sleep between poll loop ticks instead of busy-waiting")
	flags.StringVar(&localAddr, "local", "10.0.0.10:8000", "local UDP address written into outbound headers")
	flags.StringVar(&peerAddr, "peer", "10.0.0.11:8004", "destination UDP address for injected transactions")
	flags.StringVar(&peerMACHex, "peer-mac", "", "destination MAC address, colon-hex (required)")
	flags.StringVar(&logLevel, "log-level", "info", "log level")
	flags.StringVar(&metricsBnd, "metrics-addr", "127.0.0.1:9464", "loopback address to serve /metrics on")
	root.MarkFlagRequired("iface")
	root.MarkFlagRequired("peer-mac")

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

type runtimeOpts struct {
	iface       string
	queueID     uint32
	idleSleep   bool
	localAddr   string
	peerAddr    string
	peerMACHex  string
	logLevel    string
	metricsBind string
}

func run(opts runtimeOpts) error {
	log := logging.New(opts.logLevel)

	if err := rlimit.RemoveMemlock(); err != nil {
		log.WithError(err).Fatal("remove memlock rlimit")
	}

	if err := affinity.Pin(config.CorePollLoop); err != nil {
		log.WithError(err).Warn("CPU affinity pin failed, continuing unpinned")
	}

	ifi, err := net.InterfaceByName(opts.iface)
	if err != nil {
		log.WithError(err).Fatal("resolve interface")
	}

	localUDP, err := net.ResolveUDPAddr("udp4", opts.localAddr)
	if err != nil {
		log.WithError(err).Fatal("parse --local")
	}
	peerUDP, err := net.ResolveUDPAddr("udp4", opts.peerAddr)
	if err != nil {
		log.WithError(err).Fatal("parse --peer")
	}
	peerMAC, err := net.ParseMAC(opts.peerMACHex)
	if err != nil || len(peerMAC) != 6 {
		log.WithError(err).Fatal("parse --peer-mac")
	}

	localMAC := [6]byte{0x02, 0, 0, 0, 0, 1}
	if ifi.HardwareAddr != nil && len(ifi.HardwareAddr) == 6 {
		copy(localMAC[:], ifi.HardwareAddr)
	}

	addr := config.Addressing{
		LocalMAC:  localMAC,
		LocalIPv4: ipv4Array(localUDP.IP),
		LocalPort: uint16(localUDP.Port),
		PeerIPv4:  ipv4Array(peerUDP.IP),
		PeerPort:  uint16(peerUDP.Port),
	}
	copy(addr.PeerMAC[:], peerMAC)

	mcounters, reg := metrics.New()

	sock, err := xsk.New(xsk.Config{
		Interface: opts.iface,
		QueueID:   opts.queueID,
		FrameSize: config.FrameSize,
		NumFrames: config.NumFrames,
		RingSize:   config.RingSize,
		Warn:       func(msg string) { log.Warn(msg) },
		OnFillDrop: func() { mcounters.FillRecycleDrops.Inc() },
	})
	if err != nil {
		log.WithError(err).Fatal("construct AF_XDP socket")
	}
	defer sock.Close()

	attached, err := loader.Attach(ifi.Index, opts.queueID, sock.FD())
	if err != nil {
		log.WithError(err).Fatal("attach XDP classifier")
	}
	defer attached.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Info("shutdown signal received")
		cancel()
	}()

	ebpfGauges := metrics.NewEBPFGauges(reg)
	go metrics.RunEBPFStatsScraper(ctx, attached.StatsMap(), ebpfGauges, time.Second)

	go func() {
		if err := affinity.Pin(config.CoreMetrics); err != nil {
			log.WithError(err).Debug("metrics server affinity pin failed")
		}
		if err := metrics.Serve(ctx, opts.metricsBind, reg); err != nil {
			log.WithError(err).Warn("metrics server stopped")
		}
	}()

	driver, err := quicdriver.Dial(ctx, quicdriver.Config{
		Local:  localUDP,
		Peer:   peerUDP,
		SCID:   []byte{0x55, 0x55, 0x55, 0x55, 0x55, 0x55, 0x55, 0x55, 0x55, 0x55, 0x55, 0x55, 0x55, 0x55, 0x55, 0x55, 0x55, 0x55, 0x55, 0x55},
		TLS:    &tls.Config{InsecureSkipVerify: true, NextProtos: []string{"afterburner-quic"}},
		Logger: log,
		Metric: mcounters,
	})
	if err != nil {
		log.WithError(err).Fatal("dial QUIC connection")
	}

	src := txsource.NewChannel(1024)
	loop := pollloop.New(sock, driver, addr, src, log, mcounters, opts.idleSleep)

	log.WithFields(map[string]interface{}{
		"iface": opts.iface,
		"queue": opts.queueID,
	}).Info("starting poll loop")

	if err := loop.Run(ctx); err != nil {
		return fmt.Errorf("poll loop: %w", err)
	}
	return nil
}

func ipv4Array(ip net.IP) [4]byte {
	var out [4]byte
	v4 := ip.To4()
	if v4 != nil {
		copy(out[:], v4)
	}
	return out
}
