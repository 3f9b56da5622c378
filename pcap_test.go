package natlab

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeTestPCAP writes a capture containing an ICMP echo, a UDP
// datagram, and a TCP SYN, and returns the file name.
func writeTestPCAP(t *testing.T) string {
	t.Helper()
	filename := filepath.Join(t.TempDir(), "capture.pcap")
	filep, err := os.Create(filename)
	require.NoError(t, err)
	defer filep.Close()

	writer := pcapgo.NewWriter(filep)
	require.NoError(t, writer.WriteFileHeader(65536, layers.LinkTypeEthernet))

	eth := &layers.Ethernet{
		SrcMAC:       net.HardwareAddr{0x02, 0x00, 0x00, 0x00, 0x00, 0x01},
		DstMAC:       net.HardwareAddr{0x02, 0x00, 0x00, 0x00, 0x00, 0x02},
		EthernetType: layers.EthernetTypeIPv4,
	}
	newIPv4 := func(proto layers.IPProtocol) *layers.IPv4 {
		return &layers.IPv4{
			Version:  4,
			IHL:      5,
			TTL:      64,
			Protocol: proto,
			SrcIP:    net.ParseIP("192.168.1.100"),
			DstIP:    net.ParseIP("10.0.0.100"),
		}
	}
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}

	writePacket := func(data []byte) {
		ci := gopacket.CaptureInfo{
			Timestamp:     time.Now(),
			CaptureLength: len(data),
			Length:        len(data),
		}
		require.NoError(t, writer.WritePacket(ci, data))
	}

	// ICMP echo request
	buf := gopacket.NewSerializeBuffer()
	icmp := &layers.ICMPv4{
		TypeCode: layers.CreateICMPv4TypeCode(layers.ICMPv4TypeEchoRequest, 0),
	}
	require.NoError(t, gopacket.SerializeLayers(
		buf, opts, eth, newIPv4(layers.IPProtocolICMPv4), icmp,
		gopacket.Payload([]byte("abcdefgh")),
	))
	writePacket(buf.Bytes())

	// UDP datagram
	buf = gopacket.NewSerializeBuffer()
	ipv4 := newIPv4(layers.IPProtocolUDP)
	udp := &layers.UDP{SrcPort: 4242, DstPort: 5778}
	require.NoError(t, udp.SetNetworkLayerForChecksum(ipv4))
	require.NoError(t, gopacket.SerializeLayers(
		buf, opts, eth, ipv4, udp, gopacket.Payload([]byte("quic-ish")),
	))
	writePacket(buf.Bytes())

	// TCP SYN
	buf = gopacket.NewSerializeBuffer()
	ipv4 = newIPv4(layers.IPProtocolTCP)
	tcp := &layers.TCP{SrcPort: 4242, DstPort: 443, SYN: true}
	require.NoError(t, tcp.SetNetworkLayerForChecksum(ipv4))
	require.NoError(t, gopacket.SerializeLayers(buf, opts, eth, ipv4, tcp))
	writePacket(buf.Bytes())

	return filename
}

func TestSummarizePCAP(t *testing.T) {
	filename := writeTestPCAP(t)
	summary, err := SummarizePCAP(filename)
	require.NoError(t, err)
	assert.Equal(t, 3, summary.Packets)
	assert.Equal(t, 1, summary.ICMP)
	assert.Equal(t, 1, summary.UDP)
	assert.Equal(t, 1, summary.TCP)
	assert.Greater(t, summary.Bytes, 0)
}

func TestSummarizePCAPMissingFile(t *testing.T) {
	_, err := SummarizePCAP(filepath.Join(t.TempDir(), "missing.pcap"))
	require.Error(t, err)
}

func TestSummarizePCAPGarbageFile(t *testing.T) {
	filename := filepath.Join(t.TempDir(), "garbage.pcap")
	require.NoError(t, os.WriteFile(filename, []byte("not a pcap"), 0644))
	_, err := SummarizePCAP(filename)
	require.Error(t, err)
}

func TestStartCapture(t *testing.T) {
	backend := &FakeBackend{}
	require.NoError(t, backend.Start(context.Background(), newTestTopology(t)))
	require.NoError(t, StartCapture(
		context.Background(), backend, "alice", "eth0", "alice.pcap"))

	commands := backend.Commands()
	require.Len(t, commands, 1)
	assert.Equal(t, "tcpdump -i eth0 -U -w alice.pcap", commands[0].Cmdline)
	assert.True(t, commands[0].Background)
	assert.Equal(t, "alice.pcap.log", commands[0].OutputFile)
}
