//go:build pcap
// +build pcap

package ingest

import (
	"context"
	"fmt"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcap"

	"github.com/banshee-data/simstats/internal/monitoring"
)

// ReplayPCAP routes the UDP payloads on udpPort found in a capture file.
// Only available when building with the 'pcap' build tag.
func ReplayPCAP(ctx context.Context, pcapFile string, udpPort int, router *Router) error {
	handle, err := pcap.OpenOffline(pcapFile)
	if err != nil {
		return fmt.Errorf("failed to open PCAP file %s: %w", pcapFile, err)
	}
	defer handle.Close()

	filterStr := fmt.Sprintf("udp port %d", udpPort)
	if err := handle.SetBPFFilter(filterStr); err != nil {
		return fmt.Errorf("failed to set BPF filter '%s': %w", filterStr, err)
	}

	source := gopacket.NewPacketSource(handle, handle.LinkType())
	packets, rejected := 0, 0
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case packet := <-source.Packets():
			if packet == nil {
				monitoring.Logf("[ingest] PCAP replay complete: %d packets, %d rejected", packets, rejected)
				return nil
			}
			udpLayer := packet.Layer(layers.LayerTypeUDP)
			if udpLayer == nil {
				continue
			}
			udp, ok := udpLayer.(*layers.UDP)
			if !ok || len(udp.Payload) == 0 {
				continue
			}
			packets++
			if err := router.Route(udp.Payload); err != nil {
				rejected++
				monitoring.Debugf("[ingest] PCAP packet %d: %v", packets, err)
			}
		}
	}
}
