// Package natlab is a small laboratory for exercising peer-to-peer
// relay binaries across NAT. It declares virtual topologies consisting
// of switches, plain hosts, NAT routers, and Docker-backed hosts, and
// then drives shell commands inside the virtual nodes to verify
// connectivity and to run the relay under test.
//
// The [Topology] type is the declarative side of the package: you add
// switches, hosts, and NAT routers to it, and the topology validates
// that names and addresses do not collide. The recurring motif of a
// NAT router fronting a single LAN host has its own constructor,
// [Topology.AddNATLAN].
//
// A [Backend] turns a declared topology into live virtual resources
// and executes commands inside nodes. The [LinuxBackend] delegates
// everything to the operating system: network namespaces, veth pairs,
// bridges, iptables masquerading, and the docker CLI for Docker-backed
// hosts. It contains no networking logic of its own. The [FakeBackend]
// is a test double that records operations and serves scripted command
// results, so that most of this package can be tested without root
// privileges.
//
// The [Scenario] type is the sequential test driver: start the
// topology, run each [Check] in order, stop at the first failure, and
// always tear the topology down, best effort. The checks this package
// provides are [ExpectReachable], [ExpectUnreachable] (LAN isolation),
// and [ExpectProxyRoundTrip], which starts the relay server detached
// on one node, waits for it to publish its address through an output
// file, and then runs the relay client from other nodes against that
// address.
//
// Topologies can also be loaded from YAML files: see [ReadTopologyFile].
package natlab
