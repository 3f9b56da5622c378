package natlab

import (
	"context"
	"testing"

	"github.com/google/go-cmp/cmp"
)

// successfulPingOutput is iputils ping output for three replies.
var successfulPingOutput = []byte(`PING 10.0.0.100 (10.0.0.100) 56(84) bytes of data.
64 bytes from 10.0.0.100: icmp_seq=1 ttl=63 time=0.101 ms
64 bytes from 10.0.0.100: icmp_seq=2 ttl=63 time=0.214 ms
64 bytes from 10.0.0.100: icmp_seq=3 ttl=63 time=0.187 ms

--- 10.0.0.100 ping statistics ---
3 packets transmitted, 3 received, 0% packet loss, time 2037ms
rtt min/avg/max/mdev = 0.101/0.167/0.214/0.048 ms
`)

// failedPingOutput is iputils ping output for an unreachable target.
var failedPingOutput = []byte(`PING 192.168.2.100 (192.168.2.100) 56(84) bytes of data.

--- 192.168.2.100 ping statistics ---
3 packets transmitted, 0 received, 100% packet loss, time 2043ms
`)

func TestPingParsesSuccessfulRun(t *testing.T) {
	backend := &FakeBackend{
		OnRun: func(node, cmdline string) (*CmdResult, error) {
			if cmdline != "ping -c 3 -W 2 10.0.0.100" {
				t.Fatal("unexpected command line", cmdline)
			}
			return &CmdResult{Stdout: successfulPingOutput, ExitCode: 0}, nil
		},
	}
	topo := newTestTopology(t)
	if err := backend.Start(context.Background(), topo); err != nil {
		t.Fatal(err)
	}

	report, err := Ping(context.Background(), backend, "alice", "10.0.0.100", 3)
	if err != nil {
		t.Fatal(err)
	}
	want := &PingReport{
		Node:        "alice",
		Target:      "10.0.0.100",
		ExitCode:    0,
		PacketsSent: 3,
		PacketsRecv: 3,
		MinRTT:      0.101,
		MedianRTT:   0.187,
		MaxRTT:      0.214,
	}
	if diff := cmp.Diff(want, report); diff != "" {
		t.Fatal(diff)
	}
	if !report.Reachable() {
		t.Fatal("expected the report to say reachable")
	}
}

func TestPingParsesFailedRun(t *testing.T) {
	backend := &FakeBackend{
		OnRun: func(node, cmdline string) (*CmdResult, error) {
			return &CmdResult{Stdout: failedPingOutput, ExitCode: 1}, nil
		},
	}
	if err := backend.Start(context.Background(), newTestTopology(t)); err != nil {
		t.Fatal(err)
	}

	report, err := Ping(context.Background(), backend, "alice", "192.168.2.100", 3)
	if err != nil {
		t.Fatal(err)
	}
	if report.Reachable() {
		t.Fatal("expected the report to say unreachable")
	}
	if report.PacketsSent != 3 || report.PacketsRecv != 0 {
		t.Fatal("unexpected packet counts", report.PacketsSent, report.PacketsRecv)
	}
	if report.MedianRTT != 0 {
		t.Fatal("expected a zero RTT")
	}
}

func TestPingParsesBusyboxSummary(t *testing.T) {
	// busybox ping says "3 packets received" rather than "3 received"
	output := []byte(`PING 10.0.0.100 (10.0.0.100): 56 data bytes
64 bytes from 10.0.0.100: seq=0 ttl=63 time=0.214 ms

--- 10.0.0.100 ping statistics ---
1 packets transmitted, 1 packets received, 0% packet loss
round-trip min/avg/max = 0.214/0.214/0.214 ms
`)
	report := &PingReport{}
	parsePingOutput(report, output)
	if report.PacketsSent != 1 || report.PacketsRecv != 1 {
		t.Fatal("unexpected packet counts", report.PacketsSent, report.PacketsRecv)
	}
	if report.MedianRTT != 0.214 {
		t.Fatal("unexpected median RTT", report.MedianRTT)
	}
}
