package natlab

//
// Topology model
//

import (
	"errors"
	"fmt"
	"net"
)

// NodeKind is the kind of a [Node].
type NodeKind int

const (
	// NodeKindHost is a plain virtual host.
	NodeKindHost = NodeKind(iota)

	// NodeKindNATRouter is a router that masquerades traffic from
	// its LAN leg onto its WAN leg.
	NodeKindNATRouter

	// NodeKindDockerHost is a host backed by a docker container.
	NodeKindDockerHost
)

// String implements fmt.Stringer
func (k NodeKind) String() string {
	switch k {
	case NodeKindHost:
		return "host"
	case NodeKindNATRouter:
		return "nat"
	case NodeKindDockerHost:
		return "docker"
	default:
		return "unknown"
	}
}

// Iface is a network interface of a [Node] attached to a [Switch].
type Iface struct {
	// CIDR is the interface address in CIDR notation (e.g.,
	// "10.0.0.100/24").
	CIDR string

	// Switch is the name of the switch the interface attaches to.
	Switch string
}

// Addr returns the IP address part of the interface CIDR.
func (ifc *Iface) Addr() string {
	addr, _, err := net.ParseCIDR(ifc.CIDR)
	if err != nil {
		return ""
	}
	return addr.String()
}

// Node is a virtual host declared in a [Topology]. The zero value is
// invalid; nodes are created by the [Topology] Add methods.
type Node struct {
	// Name uniquely identifies the node within its topology.
	Name string

	// Kind is the node kind.
	Kind NodeKind

	// Ifaces contains the node interfaces. For a NAT router, the
	// first interface is the WAN leg and the second is the LAN leg.
	Ifaces []*Iface

	// Gateway is the optional IPv4 address of the default gateway.
	Gateway string

	// Image is the container image (docker hosts only).
	Image string
}

// Switch is an L2 segment to which node interfaces attach.
type Switch struct {
	// Name uniquely identifies the switch within its topology.
	Name string
}

// ErrDuplicateAddr indicates that an address has already been added
// to a topology.
var ErrDuplicateAddr = errors.New("natlab: address has already been added")

// ErrDuplicateName indicates that a node or switch name has already
// been added to a topology.
var ErrDuplicateName = errors.New("natlab: name has already been added")

// ErrUnknownSwitch indicates that an interface references a switch
// that has not been added to the topology.
var ErrUnknownSwitch = errors.New("natlab: unknown switch")

// ErrInvalidAddr indicates that an address is not valid IPv4 CIDR
// notation.
var ErrInvalidAddr = errors.New("natlab: invalid address")

// Topology declares a virtual network: switches, hosts, NAT routers,
// and the links implied by attaching interfaces to switches. The
// topology only describes the network; a [Backend] brings it to
// life. The zero value is invalid; use [NewTopology].
type Topology struct {
	// addresses tracks the already-added addresses
	addresses map[string]int

	// logger is the logger to use
	logger Logger

	// nodes maps node names to nodes
	nodes map[string]*Node

	// nodeOrder preserves node declaration order
	nodeOrder []string

	// switches maps switch names to switches
	switches map[string]*Switch

	// switchOrder preserves switch declaration order
	switchOrder []string
}

// NewTopology constructs a new, empty [Topology].
func NewTopology(logger Logger) *Topology {
	return &Topology{
		addresses:   map[string]int{},
		logger:      logger,
		nodes:       map[string]*Node{},
		nodeOrder:   []string{},
		switches:    map[string]*Switch{},
		switchOrder: []string{},
	}
}

// AddSwitch adds a named L2 segment to the topology.
func (t *Topology) AddSwitch(name string) (*Switch, error) {
	if _, found := t.switches[name]; found {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateName, name)
	}
	sw := &Switch{Name: name}
	t.switches[name] = sw
	t.switchOrder = append(t.switchOrder, name)
	t.logger.Debugf("natlab: add switch %s", name)
	return sw, nil
}

// AddHost adds a plain host with the given interfaces and optional
// default gateway address (use the empty string for no gateway).
func (t *Topology) AddHost(name string, gateway string, ifaces ...*Iface) (*Node, error) {
	return t.addNode(&Node{
		Name:    name,
		Kind:    NodeKindHost,
		Ifaces:  ifaces,
		Gateway: gateway,
	})
}

// AddNATRouter adds a NAT router whose wan interface faces the
// backbone and whose lan interface faces the private segment. Traffic
// from the LAN is masqueraded onto the WAN; the translation itself is
// performed by the [Backend]'s external tooling.
func (t *Topology) AddNATRouter(name string, wan, lan *Iface) (*Node, error) {
	return t.addNode(&Node{
		Name:   name,
		Kind:   NodeKindNATRouter,
		Ifaces: []*Iface{wan, lan},
	})
}

// AddDockerHost adds a host backed by a container running the given
// image. The container's own networking is disabled and replaced by
// the given interface.
func (t *Topology) AddDockerHost(name, image, gateway string, iface *Iface) (*Node, error) {
	return t.addNode(&Node{
		Name:    name,
		Kind:    NodeKindDockerHost,
		Ifaces:  []*Iface{iface},
		Gateway: gateway,
		Image:   image,
	})
}

// addNode validates and registers a node.
func (t *Topology) addNode(node *Node) (*Node, error) {
	if _, found := t.nodes[node.Name]; found {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateName, node.Name)
	}
	seen := map[string]bool{}
	for _, ifc := range node.Ifaces {
		addr, _, err := net.ParseCIDR(ifc.CIDR)
		if err != nil || addr.To4() == nil {
			return nil, fmt.Errorf("%w: %s", ErrInvalidAddr, ifc.CIDR)
		}
		if _, found := t.switches[ifc.Switch]; !found {
			return nil, fmt.Errorf("%w: %s", ErrUnknownSwitch, ifc.Switch)
		}
		if t.addresses[addr.String()] > 0 || seen[addr.String()] {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateAddr, addr.String())
		}
		seen[addr.String()] = true
	}
	if node.Gateway != "" && net.ParseIP(node.Gateway) == nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidAddr, node.Gateway)
	}
	for _, ifc := range node.Ifaces {
		t.addresses[ifc.Addr()]++
	}
	t.nodes[node.Name] = node
	t.nodeOrder = append(t.nodeOrder, node.Name)
	t.logger.Debugf("natlab: add %s node %s", node.Kind, node.Name)
	return node, nil
}

// NATLAN is a private LAN segment fronted by a NAT router, the motif
// created by [Topology.AddNATLAN].
type NATLAN struct {
	// Router is the NAT router node.
	Router *Node

	// Host is the single host inside the LAN.
	Host *Node

	// Switch is the LAN segment.
	Switch *Switch

	// HostAddr is the LAN host IPv4 address.
	HostAddr string
}

// AddNATLAN declares the recurring motif of both canned scenarios: a
// private segment 192.168.<index>.0/24 with the NAT router at .1 and a
// single host at .100, the router's WAN leg attached to the named
// backbone switch with the given address. When image is not empty the
// LAN host is Docker-backed, otherwise it is a plain host.
func (t *Topology) AddNATLAN(index int, wanCIDR, backbone, image string) (*NATLAN, error) {
	swName := fmt.Sprintf("lan%d", index)
	sw, err := t.AddSwitch(swName)
	if err != nil {
		return nil, err
	}

	routerLAN := fmt.Sprintf("192.168.%d.1", index)
	router, err := t.AddNATRouter(
		fmt.Sprintf("nat%d", index),
		&Iface{CIDR: wanCIDR, Switch: backbone},
		&Iface{CIDR: routerLAN + "/24", Switch: swName},
	)
	if err != nil {
		return nil, err
	}

	hostAddr := fmt.Sprintf("192.168.%d.100", index)
	hostIface := &Iface{CIDR: hostAddr + "/24", Switch: swName}
	hostName := fmt.Sprintf("host%d", index)
	var host *Node
	if image != "" {
		host, err = t.AddDockerHost(hostName, image, routerLAN, hostIface)
	} else {
		host, err = t.AddHost(hostName, routerLAN, hostIface)
	}
	if err != nil {
		return nil, err
	}

	return &NATLAN{
		Router:   router,
		Host:     host,
		Switch:   sw,
		HostAddr: hostAddr,
	}, nil
}

// Node returns the node with the given name, or nil.
func (t *Topology) Node(name string) *Node {
	return t.nodes[name]
}

// Nodes returns the nodes in declaration order.
func (t *Topology) Nodes() []*Node {
	out := []*Node{}
	for _, name := range t.nodeOrder {
		out = append(out, t.nodes[name])
	}
	return out
}

// Switches returns the switches in declaration order.
func (t *Topology) Switches() []*Switch {
	out := []*Switch{}
	for _, name := range t.switchOrder {
		out = append(out, t.switches[name])
	}
	return out
}
