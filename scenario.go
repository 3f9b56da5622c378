package natlab

//
// Scenario driver
//

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrHostUnreachable means a host we expected to reach did not reply.
var ErrHostUnreachable = errors.New("natlab: host unreachable")

// ErrIsolationViolated means a host we expected to be isolated from
// replied to our probes.
var ErrIsolationViolated = errors.New("natlab: LAN isolation violated")

// Check is a single verification step of a [Scenario].
type Check struct {
	// Name names the check in reports.
	Name string

	// Run performs the check.
	Run func(ctx context.Context) error
}

// Scenario ties together a declared topology, a backend, and an
// ordered list of checks. The zero value is invalid: fill in all the
// exported fields (Observer is optional).
type Scenario struct {
	// Name names the scenario.
	Name string

	// Topology is the topology to instantiate.
	Topology *Topology

	// Backend instantiates the topology and runs commands.
	Backend Backend

	// Logger is the logger to use.
	Logger Logger

	// Checks are executed sequentially in order.
	Checks []*Check

	// Observer is OPTIONALLY invoked after each check with the
	// check's outcome, e.g., to print a PASS/FAIL report.
	Observer func(name string, err error, elapsed time.Duration)
}

// Run starts the topology and executes each check in order. The
// first failing step aborts the sequence and its error is returned.
// Teardown always runs, best effort, and its errors are discarded.
func (s *Scenario) Run(ctx context.Context) error {
	s.Logger.Infof("natlab: scenario %s: starting topology", s.Name)
	defer func() {
		s.Logger.Infof("natlab: scenario %s: stopping topology", s.Name)
		_ = s.Backend.Stop()
	}()
	if err := s.Backend.Start(ctx, s.Topology); err != nil {
		return err
	}
	for _, check := range s.Checks {
		start := time.Now()
		err := check.Run(ctx)
		if s.Observer != nil {
			s.Observer(check.Name, err, time.Since(start))
		}
		if err != nil {
			return fmt.Errorf("%s: %w", check.Name, err)
		}
	}
	return nil
}

// pingCount is how many echo requests each probe sends.
const pingCount = 3

// ExpectReachable returns a [Check] asserting that node can ping the
// target address.
func ExpectReachable(backend Backend, logger Logger, node, target string) *Check {
	return &Check{
		Name: fmt.Sprintf("%s can reach %s", node, target),
		Run: func(ctx context.Context) error {
			report, err := Ping(ctx, backend, node, target, pingCount)
			if err != nil {
				return err
			}
			if !report.Reachable() {
				return fmt.Errorf("%w: %s from %s", ErrHostUnreachable, target, node)
			}
			logger.Infof(
				"natlab: ping %s -> %s: %d/%d replies, median RTT %.3f ms",
				node, target, report.PacketsRecv, report.PacketsSent, report.MedianRTT,
			)
			return nil
		},
	}
}

// ExpectUnreachable returns a [Check] asserting that node cannot ping
// the target address, which is how we verify that distinct LAN
// segments are isolated from each other.
func ExpectUnreachable(backend Backend, logger Logger, node, target string) *Check {
	return &Check{
		Name: fmt.Sprintf("%s cannot reach %s", node, target),
		Run: func(ctx context.Context) error {
			report, err := Ping(ctx, backend, node, target, pingCount)
			if err != nil {
				return err
			}
			if report.Reachable() {
				return fmt.Errorf("%w: %s reached %s", ErrIsolationViolated, node, target)
			}
			logger.Infof("natlab: ping %s -> %s failed as expected", node, target)
			return nil
		},
	}
}

// ExpectProxyRoundTrip returns a [Check] wrapping [RunProxyCheck].
func ExpectProxyRoundTrip(backend Backend, logger Logger, config *ProxyConfig) *Check {
	return &Check{
		Name: fmt.Sprintf("proxy on %s serves %v", config.ServerNode, config.ClientNodes),
		Run: func(ctx context.Context) error {
			return RunProxyCheck(ctx, backend, logger, config)
		},
	}
}
