package natlab

//
// Topology files
//

import (
	"bytes"
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// ErrUnknownProbeType indicates that a topology file contains a probe
// whose type we do not implement.
var ErrUnknownProbeType = errors.New("natlab: unknown probe type")

// IfaceSpec describes an interface in a [TopologyFile].
type IfaceSpec struct {
	CIDR   string `yaml:"cidr"`
	Switch string `yaml:"switch"`
}

// HostSpec describes a plain host in a [TopologyFile].
type HostSpec struct {
	Name       string      `yaml:"name"`
	Gateway    string      `yaml:"gateway"`
	Interfaces []IfaceSpec `yaml:"interfaces"`
}

// NATSpec describes a NAT router in a [TopologyFile].
type NATSpec struct {
	Name string    `yaml:"name"`
	WAN  IfaceSpec `yaml:"wan"`
	LAN  IfaceSpec `yaml:"lan"`
}

// DockerHostSpec describes a Docker-backed host in a [TopologyFile].
type DockerHostSpec struct {
	Name      string    `yaml:"name"`
	Image     string    `yaml:"image"`
	Gateway   string    `yaml:"gateway"`
	Interface IfaceSpec `yaml:"interface"`
}

// ProbeSpec describes a verification step in a [TopologyFile]. Type
// is one of "reachable", "isolated", and "proxy".
type ProbeSpec struct {
	Type          string   `yaml:"type"`
	From          string   `yaml:"from"`
	To            string   `yaml:"to"`
	Server        string   `yaml:"server"`
	ServerCommand string   `yaml:"server_command"`
	Clients       []string `yaml:"clients"`
	ClientCommand string   `yaml:"client_command"`
}

// TopologyFile is the on-disk YAML description of a topology along
// with the probes to run against it.
type TopologyFile struct {
	Name        string           `yaml:"name"`
	Switches    []string         `yaml:"switches"`
	Hosts       []HostSpec       `yaml:"hosts"`
	NATs        []NATSpec        `yaml:"nats"`
	DockerHosts []DockerHostSpec `yaml:"docker_hosts"`
	Probes      []ProbeSpec      `yaml:"probes"`
}

// ParseTopologyFile parses a [TopologyFile] from bytes, rejecting
// unknown fields.
func ParseTopologyFile(data []byte) (*TopologyFile, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	tf := &TopologyFile{}
	if err := dec.Decode(tf); err != nil {
		return nil, err
	}
	return tf, nil
}

// ReadTopologyFile reads and parses the given topology file.
func ReadTopologyFile(path string) (*TopologyFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseTopologyFile(data)
}

// iface converts an [IfaceSpec] to an [Iface].
func (spec *IfaceSpec) iface() *Iface {
	return &Iface{CIDR: spec.CIDR, Switch: spec.Switch}
}

// Build declares the topology described by this file.
func (tf *TopologyFile) Build(logger Logger) (*Topology, error) {
	topo := NewTopology(logger)
	for _, name := range tf.Switches {
		if _, err := topo.AddSwitch(name); err != nil {
			return nil, err
		}
	}
	for _, spec := range tf.Hosts {
		ifaces := []*Iface{}
		for idx := range spec.Interfaces {
			ifaces = append(ifaces, spec.Interfaces[idx].iface())
		}
		if _, err := topo.AddHost(spec.Name, spec.Gateway, ifaces...); err != nil {
			return nil, err
		}
	}
	for _, spec := range tf.NATs {
		if _, err := topo.AddNATRouter(spec.Name, spec.WAN.iface(), spec.LAN.iface()); err != nil {
			return nil, err
		}
	}
	for _, spec := range tf.DockerHosts {
		_, err := topo.AddDockerHost(spec.Name, spec.Image, spec.Gateway, spec.Interface.iface())
		if err != nil {
			return nil, err
		}
	}
	return topo, nil
}

// checkNodeRef ensures a probe references a declared node.
func checkNodeRef(topo *Topology, name string) error {
	if topo.Node(name) == nil {
		return fmt.Errorf("%w: %s", ErrNoSuchNode, name)
	}
	return nil
}

// Scenario builds the runnable [Scenario] described by this file.
func (tf *TopologyFile) Scenario(backend Backend, logger Logger) (*Scenario, error) {
	topo, err := tf.Build(logger)
	if err != nil {
		return nil, err
	}
	checks := []*Check{}
	for _, probe := range tf.Probes {
		switch probe.Type {
		case "reachable":
			if err := checkNodeRef(topo, probe.From); err != nil {
				return nil, err
			}
			checks = append(checks, ExpectReachable(backend, logger, probe.From, probe.To))

		case "isolated":
			if err := checkNodeRef(topo, probe.From); err != nil {
				return nil, err
			}
			checks = append(checks, ExpectUnreachable(backend, logger, probe.From, probe.To))

		case "proxy":
			if err := checkNodeRef(topo, probe.Server); err != nil {
				return nil, err
			}
			for _, client := range probe.Clients {
				if err := checkNodeRef(topo, client); err != nil {
					return nil, err
				}
			}
			config := &ProxyConfig{
				ServerNode:    probe.Server,
				ServerCommand: probe.ServerCommand,
				ClientNodes:   probe.Clients,
				ClientCommand: probe.ClientCommand,
			}
			if config.ServerCommand == "" {
				serverNode := topo.Node(probe.Server)
				if len(serverNode.Ifaces) < 1 {
					return nil, fmt.Errorf(
						"%w: proxy server %s has no interfaces", ErrInvalidAddr, probe.Server,
					)
				}
				config.ServerCommand = (&ScenarioConfig{}).serverCommand(
					serverNode.Ifaces[0].Addr(),
				)
			}
			if config.ClientCommand == "" {
				config.ClientCommand = defaultProxyClientBin
			}
			checks = append(checks, ExpectProxyRoundTrip(backend, logger, config))

		default:
			return nil, fmt.Errorf("%w: %s", ErrUnknownProbeType, probe.Type)
		}
	}
	name := tf.Name
	if name == "" {
		name = "topology-file"
	}
	return &Scenario{
		Name:     name,
		Topology: topo,
		Backend:  backend,
		Logger:   logger,
		Checks:   checks,
	}, nil
}
