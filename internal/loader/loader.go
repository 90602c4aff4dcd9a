//go:build linux

// Package loader loads and attaches the XDP classifier program that
// redirects UDP traffic on the driver's destination port into the
// AF_XDP socket's queue, following the same collection-load, map-insert,
// attach-with-fallback sequence as the rest of the ecosystem's XDP
// tooling.
package loader

import (
	"bytes"
	_ "embed"
	"fmt"

	"github.com/cilium/ebpf"
	"github.com/cilium/ebpf/link"
)

//go:embed obj/xdp_classifier.o
var classifierObj []byte

// Attached is the handle returned by Attach: the loaded collection, the
// XSK map the socket fd must be inserted into, and the live link that
// Close detaches.
type Attached struct {
	collection *ebpf.Collection
	xsksMap    *ebpf.Map
	statsMap   *ebpf.Map
	link       link.Link
}

// StatsMap exposes the PERCPU_ARRAY counters the classifier maintains,
// for internal/metrics to scrape.
func (a *Attached) StatsMap() *ebpf.Map { return a.statsMap }

// Attach loads the embedded classifier object, inserts the AF_XDP
// socket's file descriptor into its XSK map at queueID, and attaches the
// program to the interface, preferring driver mode and falling back to
// generic (SKB) mode when the NIC driver lacks native XDP support.
func Attach(ifindex int, queueID uint32, xskFD int) (*Attached, error) {
	spec, err := ebpf.LoadCollectionSpecFromReader(bytes.NewReader(classifierObj))
	if err != nil {
		return nil, fmt.Errorf("loader: parse classifier object: %w", err)
	}

	coll, err := ebpf.NewCollection(spec)
	if err != nil {
		return nil, fmt.Errorf("loader: load classifier collection: %w", err)
	}

	prog := coll.Programs["xdp_classifier"]
	if prog == nil {
		coll.Close()
		return nil, fmt.Errorf("loader: classifier object missing program %q", "xdp_classifier")
	}
	xsksMap := coll.Maps["XSK"]
	if xsksMap == nil {
		coll.Close()
		return nil, fmt.Errorf("loader: classifier object missing map %q", "XSK")
	}
	statsMap := coll.Maps["stats_map"]

	if err := xsksMap.Update(queueID, uint32(xskFD), ebpf.UpdateAny); err != nil {
		coll.Close()
		return nil, fmt.Errorf("loader: insert socket fd into XSK map: %w", err)
	}

	lnk, err := link.AttachXDP(link.XDPOptions{
		Program:   prog,
		Interface: ifindex,
		Flags:     link.XDPDriverMode,
	})
	if err != nil {
		lnk, err = link.AttachXDP(link.XDPOptions{
			Program:   prog,
			Interface: ifindex,
			Flags:     link.XDPGenericMode,
		})
		if err != nil {
			coll.Close()
			return nil, fmt.Errorf("loader: attach classifier (driver and generic mode both failed): %w", err)
		}
	}

	return &Attached{collection: coll, xsksMap: xsksMap, statsMap: statsMap, link: lnk}, nil
}

// Close detaches the program and releases the collection's map and
// program file descriptors.
func (a *Attached) Close() error {
	var err error
	if a.link != nil {
		err = a.link.Close()
	}
	if a.collection != nil {
		a.collection.Close()
	}
	return err
}
