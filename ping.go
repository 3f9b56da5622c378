package natlab

//
// Connectivity probes
//

import (
	"context"
	"fmt"
	"regexp"
	"strconv"

	"github.com/montanaflynn/stats"
)

// PingReport summarizes a ping run between two virtual nodes. RTTs
// are expressed in milliseconds and are zero when no reply came back.
type PingReport struct {
	// Node is the node that originated the echo requests.
	Node string

	// Target is the IPv4 address we pinged.
	Target string

	// ExitCode is ping's exit code.
	ExitCode int

	// PacketsSent is the number of echo requests sent.
	PacketsSent int

	// PacketsRecv is the number of echo replies received.
	PacketsRecv int

	// MinRTT is the minimum RTT.
	MinRTT float64

	// MedianRTT is the median RTT.
	MedianRTT float64

	// MaxRTT is the maximum RTT.
	MaxRTT float64
}

// Reachable returns whether the target replied at least once and
// ping itself reported success.
func (pr *PingReport) Reachable() bool {
	return pr.ExitCode == 0 && pr.PacketsRecv > 0
}

// pingRTTRegexp matches the per-reply RTT printed by iputils ping.
var pingRTTRegexp = regexp.MustCompile(`time=([0-9.]+) ms`)

// pingCountRegexp matches the transmitted/received summary line.
var pingCountRegexp = regexp.MustCompile(`(\d+) packets transmitted, (\d+) (?:packets )?received`)

// Ping sends count echo requests from the given node to the given
// target address and parses ping's output into a [PingReport]. The
// returned error is non-nil only when ping could not run at all: an
// unreachable target yields a report with a nonzero ExitCode.
func Ping(ctx context.Context, backend Backend, node, target string, count int) (*PingReport, error) {
	cmdline := fmt.Sprintf("ping -c %d -W 2 %s", count, target)
	res, err := backend.Run(ctx, node, cmdline)
	if err != nil {
		return nil, err
	}
	report := &PingReport{
		Node:     node,
		Target:   target,
		ExitCode: res.ExitCode,
	}
	parsePingOutput(report, res.Stdout)
	return report, nil
}

// parsePingOutput fills the parseable parts of a [PingReport].
func parsePingOutput(report *PingReport, output []byte) {
	if m := pingCountRegexp.FindSubmatch(output); m != nil {
		report.PacketsSent, _ = strconv.Atoi(string(m[1]))
		report.PacketsRecv, _ = strconv.Atoi(string(m[2]))
	}
	var rtts []float64
	for _, m := range pingRTTRegexp.FindAllSubmatch(output, -1) {
		rtt, err := strconv.ParseFloat(string(m[1]), 64)
		if err != nil {
			continue
		}
		rtts = append(rtts, rtt)
	}
	if len(rtts) <= 0 {
		return
	}
	// stats errors only on empty input, which we excluded above
	report.MinRTT = Must1(stats.Min(rtts))
	report.MedianRTT = Must1(stats.Median(rtts))
	report.MaxRTT = Must1(stats.Max(rtts))
}
