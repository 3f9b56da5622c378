// Command natlab builds NAT topologies and exercises a peer-to-peer
// proxy binary across them.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/apex/log"
	"github.com/bassosimone/natlab"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

// options are the flags shared by the scenario subcommands.
type options struct {
	verbose   bool
	image     string
	proxyBin  string
	clientBin string
}

// scenarioConfig converts the flags into a [natlab.ScenarioConfig].
func (o *options) scenarioConfig() *natlab.ScenarioConfig {
	return &natlab.ScenarioConfig{
		Image:          o.image,
		ProxyServerBin: o.proxyBin,
		ProxyClientBin: o.clientBin,
	}
}

// passLabel colorizes "PASS".
var passLabel = color.New(color.FgGreen, color.Bold).SprintFunc()

// failLabel colorizes "FAIL".
var failLabel = color.New(color.FgRed, color.Bold).SprintFunc()

// reportCheck prints the per-check outcome.
func reportCheck(name string, err error, elapsed time.Duration) {
	label := passLabel("PASS")
	if err != nil {
		label = failLabel("FAIL")
	}
	fmt.Fprintf(color.Output, "%s %s (%s)\n", label, name, elapsed.Round(time.Millisecond))
}

// runScenario runs a scenario until completion or interruption.
func runScenario(scenario *natlab.Scenario) error {
	ctx, cancel := signal.NotifyContext(
		context.Background(), os.Interrupt, syscall.SIGTERM,
	)
	defer cancel()
	scenario.Observer = reportCheck
	return scenario.Run(ctx)
}

func main() {
	opts := &options{}

	root := &cobra.Command{
		Use:           "natlab",
		Short:         "NAT laboratory for p2p proxy binaries",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if opts.verbose {
				log.SetLevel(log.DebugLevel)
			}
		},
	}
	root.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "emit debug logs")
	root.PersistentFlags().StringVar(&opts.image, "image", "", "container image for LAN hosts (empty: plain hosts)")
	root.PersistentFlags().StringVar(&opts.proxyBin, "proxy-bin", "", "override the proxy server binary")
	root.PersistentFlags().StringVar(&opts.clientBin, "client-bin", "", "override the proxy client binary")

	root.AddCommand(&cobra.Command{
		Use:   "proxy-smoke",
		Short: "Single proxy behind a public host, client behind NAT",
		RunE: func(cmd *cobra.Command, args []string) error {
			scenario, err := natlab.NewProxySmokeScenario(
				natlab.NewLinuxBackend(log.Log), log.Log, opts.scenarioConfig(),
			)
			if err != nil {
				return err
			}
			return runScenario(scenario)
		},
	})

	root.AddCommand(&cobra.Command{
		Use:   "proxy-relay",
		Short: "Proxy relaying between NAT'd peers and a public peer",
		RunE: func(cmd *cobra.Command, args []string) error {
			scenario, err := natlab.NewProxyRelayScenario(
				natlab.NewLinuxBackend(log.Log), log.Log, opts.scenarioConfig(),
			)
			if err != nil {
				return err
			}
			return runScenario(scenario)
		},
	})

	root.AddCommand(&cobra.Command{
		Use:   "run TOPOLOGY_FILE",
		Short: "Run the scenario described by a YAML topology file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tf, err := natlab.ReadTopologyFile(args[0])
			if err != nil {
				return err
			}
			scenario, err := tf.Scenario(natlab.NewLinuxBackend(log.Log), log.Log)
			if err != nil {
				return err
			}
			return runScenario(scenario)
		},
	})

	root.AddCommand(&cobra.Command{
		Use:   "clean",
		Short: "Remove namespaces, bridges, and containers left by previous runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			return natlab.CleanLeftovers(context.Background(), log.Log)
		},
	})

	if err := root.Execute(); err != nil {
		log.WithError(err).Fatal("natlab failed")
	}
}
