package natlab

//
// Packet capture
//

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
)

// StartCapture starts tcpdump inside the given node, writing the
// traffic seen on the given interface to filename (as resolved by the
// backend). The capture runs until the backend stops; tcpdump's own
// chatter goes to filename with a ".log" extension appended.
func StartCapture(ctx context.Context, backend Backend, node, iface, filename string) error {
	cmdline := fmt.Sprintf("tcpdump -i %s -U -w %s", iface, filename)
	return backend.RunInBackground(ctx, node, cmdline, filename+".log")
}

// PCAPSummary summarizes a capture file.
type PCAPSummary struct {
	// Packets is the total number of captured packets.
	Packets int

	// Bytes is the total wire length of the captured packets.
	Bytes int

	// ICMP is the number of ICMPv4 packets.
	ICMP int

	// TCP is the number of TCP segments.
	TCP int

	// UDP is the number of UDP datagrams.
	UDP int
}

// SummarizePCAP reads a PCAP file and counts what it contains. We
// only dissect the layers the lab's probes generate (ICMP echoes and
// the proxy's TCP/UDP flows); anything else just counts as a packet.
func SummarizePCAP(filename string) (*PCAPSummary, error) {
	filep, err := os.Open(filename)
	if err != nil {
		return nil, err
	}
	defer filep.Close()

	reader, err := pcapgo.NewReader(filep)
	if err != nil {
		return nil, err
	}

	summary := &PCAPSummary{}
	for {
		data, ci, err := reader.ReadPacketData()
		if err == io.EOF {
			return summary, nil
		}
		if err != nil {
			return nil, err
		}
		summary.Packets++
		summary.Bytes += ci.Length

		packet := gopacket.NewPacket(data, layers.LayerTypeEthernet, gopacket.Lazy)
		if packet.Layer(layers.LayerTypeICMPv4) != nil {
			summary.ICMP++
		}
		if packet.Layer(layers.LayerTypeTCP) != nil {
			summary.TCP++
		}
		if packet.Layer(layers.LayerTypeUDP) != nil {
			summary.UDP++
		}
	}
}
