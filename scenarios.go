package natlab

//
// Canned scenarios
//

import "fmt"

// defaultProxyServerBin is the proxy server binary we exercise.
const defaultProxyServerBin = "kitsune-p2p-proxy"

// defaultProxyClientBin is the proxy client binary we exercise.
const defaultProxyClientBin = "proxy-cli"

// ScenarioConfig tunes the canned scenarios. The zero value selects
// plain (non-docker) LAN hosts and the default proxy binaries.
type ScenarioConfig struct {
	// Image is the OPTIONAL container image for LAN hosts; when empty
	// the LAN hosts are plain network namespaces.
	Image string

	// ProxyServerBin OPTIONALLY overrides the proxy server binary.
	ProxyServerBin string

	// ProxyClientBin OPTIONALLY overrides the proxy client binary.
	ProxyClientBin string
}

// serverCommand composes the server command line binding the proxy
// to the given public address.
func (sc *ScenarioConfig) serverCommand(addr string) string {
	bin := sc.ProxyServerBin
	if bin == "" {
		bin = defaultProxyServerBin
	}
	return fmt.Sprintf("%s --bind-to kitsune-quic://%s:0", bin, addr)
}

// clientCommand returns the client binary to use.
func (sc *ScenarioConfig) clientCommand() string {
	if sc.ProxyClientBin != "" {
		return sc.ProxyClientBin
	}
	return defaultProxyClientBin
}

// NewProxySmokeScenario declares the single-proxy smoke test: a
// backbone with a public host at 10.0.0.100 and two NAT'd LANs. We
// verify that both LAN hosts reach the public host, that the two LANs
// are isolated from each other, and that a client behind NAT can talk
// to the proxy running on the public host.
func NewProxySmokeScenario(backend Backend, logger Logger, config *ScenarioConfig) (*Scenario, error) {
	topo := NewTopology(logger)
	if _, err := topo.AddSwitch("backbone"); err != nil {
		return nil, err
	}
	public, err := topo.AddHost("public", "", &Iface{CIDR: "10.0.0.100/24", Switch: "backbone"})
	if err != nil {
		return nil, err
	}
	lan1, err := topo.AddNATLAN(1, "10.0.0.1/24", "backbone", config.Image)
	if err != nil {
		return nil, err
	}
	lan2, err := topo.AddNATLAN(2, "10.0.0.2/24", "backbone", config.Image)
	if err != nil {
		return nil, err
	}

	publicAddr := public.Ifaces[0].Addr()
	return &Scenario{
		Name:     "proxy-smoke",
		Topology: topo,
		Backend:  backend,
		Logger:   logger,
		Checks: []*Check{
			ExpectReachable(backend, logger, lan1.Host.Name, publicAddr),
			ExpectReachable(backend, logger, lan2.Host.Name, publicAddr),
			ExpectUnreachable(backend, logger, lan1.Host.Name, lan2.HostAddr),
			ExpectProxyRoundTrip(backend, logger, &ProxyConfig{
				ServerNode:    public.Name,
				ServerCommand: config.serverCommand(publicAddr),
				ClientNodes:   []string{lan1.Host.Name},
				ClientCommand: config.clientCommand(),
			}),
		},
	}, nil
}

// NewProxyRelayScenario declares the relay test: two public hosts at
// 10.0.0.251 (running the proxy) and 10.0.0.252, plus two NAT'd LANs.
// Both NAT'd hosts and the second public host run the client against
// the proxy's published address.
func NewProxyRelayScenario(backend Backend, logger Logger, config *ScenarioConfig) (*Scenario, error) {
	topo := NewTopology(logger)
	if _, err := topo.AddSwitch("backbone"); err != nil {
		return nil, err
	}
	proxy, err := topo.AddHost("proxy", "", &Iface{CIDR: "10.0.0.251/24", Switch: "backbone"})
	if err != nil {
		return nil, err
	}
	peer, err := topo.AddHost("peer", "", &Iface{CIDR: "10.0.0.252/24", Switch: "backbone"})
	if err != nil {
		return nil, err
	}
	lan1, err := topo.AddNATLAN(1, "10.0.0.1/24", "backbone", config.Image)
	if err != nil {
		return nil, err
	}
	lan2, err := topo.AddNATLAN(2, "10.0.0.2/24", "backbone", config.Image)
	if err != nil {
		return nil, err
	}

	proxyAddr := proxy.Ifaces[0].Addr()
	return &Scenario{
		Name:     "proxy-relay",
		Topology: topo,
		Backend:  backend,
		Logger:   logger,
		Checks: []*Check{
			ExpectReachable(backend, logger, lan1.Host.Name, proxyAddr),
			ExpectReachable(backend, logger, lan2.Host.Name, proxyAddr),
			ExpectReachable(backend, logger, peer.Name, proxyAddr),
			ExpectUnreachable(backend, logger, lan1.Host.Name, lan2.HostAddr),
			ExpectUnreachable(backend, logger, lan2.Host.Name, lan1.HostAddr),
			ExpectProxyRoundTrip(backend, logger, &ProxyConfig{
				ServerNode:    proxy.Name,
				ServerCommand: config.serverCommand(proxyAddr),
				ClientNodes:   []string{lan1.Host.Name, lan2.Host.Name, peer.Name},
				ClientCommand: config.clientCommand(),
			}),
		},
	}, nil
}
