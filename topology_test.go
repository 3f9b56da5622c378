package natlab

import (
	"errors"
	"fmt"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestTopologyRejectsDuplicateAddresses(t *testing.T) {
	topo := NewTopology(&NullLogger{})
	if _, err := topo.AddSwitch("backbone"); err != nil {
		t.Fatal(err)
	}
	if _, err := topo.AddHost("alice", "", &Iface{CIDR: "10.0.0.100/24", Switch: "backbone"}); err != nil {
		t.Fatal(err)
	}
	_, err := topo.AddHost("bob", "", &Iface{CIDR: "10.0.0.100/24", Switch: "backbone"})
	if !errors.Is(err, ErrDuplicateAddr) {
		t.Fatal("expected ErrDuplicateAddr, got", err)
	}
}

func TestTopologyRejectsDuplicateAddressesWithinOneNode(t *testing.T) {
	topo := NewTopology(&NullLogger{})
	if _, err := topo.AddSwitch("backbone"); err != nil {
		t.Fatal(err)
	}
	if _, err := topo.AddSwitch("lan1"); err != nil {
		t.Fatal(err)
	}
	_, err := topo.AddHost(
		"twin", "",
		&Iface{CIDR: "10.0.0.1/24", Switch: "backbone"},
		&Iface{CIDR: "10.0.0.1/24", Switch: "lan1"},
	)
	if !errors.Is(err, ErrDuplicateAddr) {
		t.Fatal("expected ErrDuplicateAddr, got", err)
	}
	// the rejected node must not have registered its addresses
	if _, err := topo.AddHost("alice", "", &Iface{CIDR: "10.0.0.1/24", Switch: "backbone"}); err != nil {
		t.Fatal(err)
	}
}

func TestTopologyRejectsDuplicateNames(t *testing.T) {
	topo := NewTopology(&NullLogger{})
	if _, err := topo.AddSwitch("backbone"); err != nil {
		t.Fatal(err)
	}
	if _, err := topo.AddSwitch("backbone"); !errors.Is(err, ErrDuplicateName) {
		t.Fatal("expected ErrDuplicateName, got", err)
	}
	if _, err := topo.AddHost("alice", "", &Iface{CIDR: "10.0.0.1/24", Switch: "backbone"}); err != nil {
		t.Fatal(err)
	}
	_, err := topo.AddHost("alice", "", &Iface{CIDR: "10.0.0.2/24", Switch: "backbone"})
	if !errors.Is(err, ErrDuplicateName) {
		t.Fatal("expected ErrDuplicateName, got", err)
	}
}

func TestTopologyRejectsUnknownSwitch(t *testing.T) {
	topo := NewTopology(&NullLogger{})
	_, err := topo.AddHost("alice", "", &Iface{CIDR: "10.0.0.1/24", Switch: "missing"})
	if !errors.Is(err, ErrUnknownSwitch) {
		t.Fatal("expected ErrUnknownSwitch, got", err)
	}
}

func TestTopologyRejectsInvalidAddresses(t *testing.T) {
	topo := NewTopology(&NullLogger{})
	if _, err := topo.AddSwitch("backbone"); err != nil {
		t.Fatal(err)
	}
	t.Run("not CIDR notation", func(t *testing.T) {
		_, err := topo.AddHost("alice", "", &Iface{CIDR: "10.0.0.1", Switch: "backbone"})
		if !errors.Is(err, ErrInvalidAddr) {
			t.Fatal("expected ErrInvalidAddr, got", err)
		}
	})
	t.Run("IPv6", func(t *testing.T) {
		_, err := topo.AddHost("alice", "", &Iface{CIDR: "::1/128", Switch: "backbone"})
		if !errors.Is(err, ErrInvalidAddr) {
			t.Fatal("expected ErrInvalidAddr, got", err)
		}
	})
	t.Run("bad gateway", func(t *testing.T) {
		_, err := topo.AddHost("alice", "not-an-ip", &Iface{CIDR: "10.0.0.1/24", Switch: "backbone"})
		if !errors.Is(err, ErrInvalidAddr) {
			t.Fatal("expected ErrInvalidAddr, got", err)
		}
	})
}

func TestTopologyFailedAddDoesNotRegisterAddresses(t *testing.T) {
	topo := NewTopology(&NullLogger{})
	if _, err := topo.AddSwitch("backbone"); err != nil {
		t.Fatal(err)
	}
	// second interface is broken, so the first one must not be kept
	_, err := topo.AddHost(
		"router", "",
		&Iface{CIDR: "10.0.0.1/24", Switch: "backbone"},
		&Iface{CIDR: "10.0.0.2/24", Switch: "missing"},
	)
	if !errors.Is(err, ErrUnknownSwitch) {
		t.Fatal("expected ErrUnknownSwitch, got", err)
	}
	if _, err := topo.AddHost("alice", "", &Iface{CIDR: "10.0.0.1/24", Switch: "backbone"}); err != nil {
		t.Fatal(err)
	}
}

func TestTopologyAddNATLAN(t *testing.T) {
	topo := NewTopology(&NullLogger{})
	if _, err := topo.AddSwitch("backbone"); err != nil {
		t.Fatal(err)
	}
	lan, err := topo.AddNATLAN(1, "10.0.0.1/24", "backbone", "")
	if err != nil {
		t.Fatal(err)
	}

	if lan.Router.Kind != NodeKindNATRouter {
		t.Fatal("unexpected router kind", lan.Router.Kind)
	}
	wantRouterIfaces := []*Iface{
		{CIDR: "10.0.0.1/24", Switch: "backbone"},
		{CIDR: "192.168.1.1/24", Switch: "lan1"},
	}
	if diff := cmp.Diff(wantRouterIfaces, lan.Router.Ifaces); diff != "" {
		t.Fatal(diff)
	}

	if lan.Host.Kind != NodeKindHost {
		t.Fatal("unexpected host kind", lan.Host.Kind)
	}
	if lan.Host.Gateway != "192.168.1.1" {
		t.Fatal("unexpected host gateway", lan.Host.Gateway)
	}
	if lan.HostAddr != "192.168.1.100" {
		t.Fatal("unexpected host address", lan.HostAddr)
	}
}

func TestTopologyAddNATLANWithImage(t *testing.T) {
	topo := NewTopology(&NullLogger{})
	if _, err := topo.AddSwitch("backbone"); err != nil {
		t.Fatal(err)
	}
	lan, err := topo.AddNATLAN(7, "10.0.0.7/24", "backbone", "alpine:3.19")
	if err != nil {
		t.Fatal(err)
	}
	if lan.Host.Kind != NodeKindDockerHost {
		t.Fatal("unexpected host kind", lan.Host.Kind)
	}
	if lan.Host.Image != "alpine:3.19" {
		t.Fatal("unexpected image", lan.Host.Image)
	}
	if lan.HostAddr != "192.168.7.100" {
		t.Fatal("unexpected host address", lan.HostAddr)
	}
}

func TestTopologyPreservesDeclarationOrder(t *testing.T) {
	topo := NewTopology(&NullLogger{})
	if _, err := topo.AddSwitch("backbone"); err != nil {
		t.Fatal(err)
	}
	names := []string{"charlie", "alice", "bob"}
	for idx, name := range names {
		ifc := &Iface{
			CIDR:   fmt.Sprintf("10.0.0.%d/24", idx+1),
			Switch: "backbone",
		}
		if _, err := topo.AddHost(name, "", ifc); err != nil {
			t.Fatal(err)
		}
	}
	var got []string
	for _, node := range topo.Nodes() {
		got = append(got, node.Name)
	}
	if diff := cmp.Diff(names, got); diff != "" {
		t.Fatal(diff)
	}
}

func TestIfaceAddr(t *testing.T) {
	ifc := &Iface{CIDR: "192.168.1.100/24", Switch: "lan1"}
	if ifc.Addr() != "192.168.1.100" {
		t.Fatal("unexpected address", ifc.Addr())
	}
	broken := &Iface{CIDR: "garbage"}
	if broken.Addr() != "" {
		t.Fatal("expected empty address")
	}
}
