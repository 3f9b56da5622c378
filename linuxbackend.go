package natlab

//
// Linux backend
//

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// commandRunner is the subset of [ExecRunner] used by [LinuxBackend],
// abstracted so that tests can record the command plan without root.
type commandRunner interface {
	Output(ctx context.Context, argv ...string) (*CmdResult, error)
	Run(ctx context.Context, argv ...string) error
	StartBackground(ctx context.Context, outputFile string, argv ...string) (*BackgroundProc, error)
}

var _ commandRunner = &ExecRunner{}

// resourcePrefix prefixes every named resource (netns, container) we
// create, so that [CleanLeftovers] can find strays.
const resourcePrefix = "natlab-"

// bridgePrefix prefixes bridge interface names. Interface names are
// limited to 15 bytes, hence the separate short prefix.
const bridgePrefix = "nlbr"

// vethPrefix prefixes host-side veth interface names.
const vethPrefix = "nlva"

// vethPeerPrefix prefixes node-side veth interface names before they
// are moved into the node and renamed to ethN.
const vethPeerPrefix = "nlvb"

// netnsRunDir is where ip(8) expects named network namespaces.
const netnsRunDir = "/var/run/netns"

// LinuxBackend implements [Backend] on top of the operating system's
// network namespaces, veth pairs, bridges, iptables, and the docker
// CLI. It contains no networking logic of its own: it only invokes
// external tools in the right order. You need root privileges (and
// docker, when the topology contains Docker-backed hosts) to use it.
// The zero value is invalid; use [NewLinuxBackend].
type LinuxBackend struct {
	// bridges maps switch names to bridge interface names.
	bridges map[string]string

	// containers maps docker node names to container names.
	containers map[string]string

	// logger is the logger to use.
	logger Logger

	// mu protects the mutable fields.
	mu sync.Mutex

	// netns maps node names to network namespace names.
	netns map[string]string

	// netnsDir is where we create netns symlinks for containers.
	netnsDir string

	// nslinks are the netns symlinks we created for containers.
	nslinks []string

	// procs are the background processes we started.
	procs []*BackgroundProc

	// runID is the unique suffix for this run's resources.
	runID string

	// runner runs external commands.
	runner commandRunner

	// started tracks whether Start has been called.
	started bool

	// stopOnce provides "once" semantics for Stop.
	stopOnce sync.Once

	// topo is the started topology.
	topo *Topology

	// workDir hosts the output files of background commands.
	workDir string
}

var _ Backend = &LinuxBackend{}

// NewLinuxBackend creates a new [LinuxBackend].
func NewLinuxBackend(logger Logger) *LinuxBackend {
	return &LinuxBackend{
		bridges:    map[string]string{},
		containers: map[string]string{},
		logger:     logger,
		netns:      map[string]string{},
		netnsDir:   netnsRunDir,
		runID:      strings.ReplaceAll(uuid.New().String(), "-", "")[:6],
		runner:     &ExecRunner{Logger: logger},
	}
}

// Start implements Backend
func (b *LinuxBackend) Start(ctx context.Context, topo *Topology) error {
	defer b.mu.Unlock()
	b.mu.Lock()
	if b.started {
		return ErrBackendAlreadyStarted
	}
	b.started = true
	b.topo = topo

	workDir, err := os.MkdirTemp("", resourcePrefix)
	if err != nil {
		return err
	}
	b.workDir = workDir

	if err := b.createSwitches(ctx); err != nil {
		return err
	}
	if err := b.createNodes(ctx); err != nil {
		return err
	}
	if err := b.createLinks(ctx); err != nil {
		return err
	}
	return b.configureNodes(ctx)
}

// createSwitches creates a bridge per declared switch.
func (b *LinuxBackend) createSwitches(ctx context.Context) error {
	for idx, sw := range b.topo.Switches() {
		br := fmt.Sprintf("%s%s%d", bridgePrefix, b.runID, idx)
		if err := b.runner.Run(ctx, "ip", "link", "add", br, "type", "bridge"); err != nil {
			return err
		}
		if err := b.runner.Run(ctx, "ip", "link", "set", br, "up"); err != nil {
			return err
		}
		b.bridges[sw.Name] = br
	}
	return nil
}

// createNodes creates a network namespace per node. Docker-backed
// nodes run a container with its own networking disabled, and we
// expose the container's namespace to ip(8) through a symlink, which
// is how containernet-style tools attach interfaces to containers.
func (b *LinuxBackend) createNodes(ctx context.Context) error {
	for _, node := range b.topo.Nodes() {
		ns := resourcePrefix + b.runID + "-" + node.Name
		if node.Kind == NodeKindDockerHost {
			cname := ns
			err := b.runner.Run(
				ctx, "docker", "run", "-d", "--network=none",
				"--name", cname, node.Image, "sleep", "infinity",
			)
			if err != nil {
				return err
			}
			b.containers[node.Name] = cname
			res, err := b.runner.Output(
				ctx, "docker", "inspect", "-f", "{{.State.Pid}}", cname,
			)
			if err != nil {
				return err
			}
			pid := strings.TrimSpace(string(res.Stdout))
			if res.ExitCode != 0 || pid == "" {
				return fmt.Errorf("%w: docker inspect %s", ErrCommandFailed, cname)
			}
			if err := os.MkdirAll(b.netnsDir, 0755); err != nil {
				return err
			}
			link := filepath.Join(b.netnsDir, ns)
			if err := os.Symlink("/proc/"+pid+"/ns/net", link); err != nil {
				return err
			}
			b.nslinks = append(b.nslinks, link)
		} else {
			if err := b.runner.Run(ctx, "ip", "netns", "add", ns); err != nil {
				return err
			}
		}
		b.netns[node.Name] = ns
		err := b.runner.Run(ctx, "ip", "netns", "exec", ns, "ip", "link", "set", "lo", "up")
		if err != nil {
			return err
		}
	}
	return nil
}

// createLinks creates a veth pair per declared interface, attaches
// the host side to the switch bridge, and moves the node side into
// the node's namespace as ethN.
func (b *LinuxBackend) createLinks(ctx context.Context) error {
	count := 0
	for _, node := range b.topo.Nodes() {
		ns := b.netns[node.Name]
		for idx, ifc := range node.Ifaces {
			hostSide := fmt.Sprintf("%s%s%d", vethPrefix, b.runID, count)
			nodeSide := fmt.Sprintf("%s%s%d", vethPeerPrefix, b.runID, count)
			count++
			eth := fmt.Sprintf("eth%d", idx)
			steps := [][]string{
				{"ip", "link", "add", hostSide, "type", "veth", "peer", "name", nodeSide},
				{"ip", "link", "set", hostSide, "master", b.bridges[ifc.Switch]},
				{"ip", "link", "set", hostSide, "up"},
				{"ip", "link", "set", nodeSide, "netns", ns},
				{"ip", "netns", "exec", ns, "ip", "link", "set", nodeSide, "name", eth},
				{"ip", "netns", "exec", ns, "ip", "addr", "add", ifc.CIDR, "dev", eth},
				{"ip", "netns", "exec", ns, "ip", "link", "set", eth, "up"},
			}
			for _, argv := range steps {
				if err := b.runner.Run(ctx, argv...); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// configureNodes installs default routes and turns NAT routers into
// actual NATs by enabling forwarding and masquerading on the WAN leg.
func (b *LinuxBackend) configureNodes(ctx context.Context) error {
	for _, node := range b.topo.Nodes() {
		ns := b.netns[node.Name]
		if node.Gateway != "" {
			err := b.runner.Run(
				ctx, "ip", "netns", "exec", ns,
				"ip", "route", "add", "default", "via", node.Gateway,
			)
			if err != nil {
				return err
			}
		}
		if node.Kind != NodeKindNATRouter {
			continue
		}
		steps := [][]string{
			{"ip", "netns", "exec", ns, "sysctl", "-q", "-w", "net.ipv4.ip_forward=1"},
			{"ip", "netns", "exec", ns, "iptables", "-t", "nat",
				"-A", "POSTROUTING", "-o", "eth0", "-j", "MASQUERADE"},
		}
		for _, argv := range steps {
			if err := b.runner.Run(ctx, argv...); err != nil {
				return err
			}
		}
	}
	return nil
}

// execArgv returns the argv prefix that enters the given node.
func (b *LinuxBackend) execArgv(node string) ([]string, error) {
	defer b.mu.Unlock()
	b.mu.Lock()
	if !b.started {
		return nil, ErrBackendNotStarted
	}
	if cname, found := b.containers[node]; found {
		return []string{"docker", "exec", cname}, nil
	}
	if ns, found := b.netns[node]; found {
		return []string{"ip", "netns", "exec", ns}, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrNoSuchNode, node)
}

// resolvePath resolves a node-relative file path. Namespaces share
// the host file system, like mininet hosts do, so relative paths land
// in this run's scratch directory.
func (b *LinuxBackend) resolvePath(path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(b.workDir, path)
}

// Run implements Backend
func (b *LinuxBackend) Run(ctx context.Context, node, cmdline string) (*CmdResult, error) {
	prefix, err := b.execArgv(node)
	if err != nil {
		return nil, err
	}
	argv, err := ParseCommandLine(cmdline)
	if err != nil {
		return nil, err
	}
	return b.runner.Output(ctx, append(prefix, argv...)...)
}

// RunInBackground implements Backend
func (b *LinuxBackend) RunInBackground(ctx context.Context, node, cmdline, outputFile string) error {
	prefix, err := b.execArgv(node)
	if err != nil {
		return err
	}
	if cname, found := b.containerName(node); found {
		// The container has its own file system: redirect inside it.
		return b.runner.Run(ctx, "docker", "exec", "-d", cname,
			"sh", "-c", fmt.Sprintf("%s > %s 2>&1", cmdline, outputFile))
	}
	argv, err := ParseCommandLine(cmdline)
	if err != nil {
		return err
	}
	proc, err := b.runner.StartBackground(
		ctx, b.resolvePath(outputFile), append(prefix, argv...)...,
	)
	if err != nil {
		return err
	}
	b.mu.Lock()
	b.procs = append(b.procs, proc)
	b.mu.Unlock()
	return nil
}

// containerName returns the container name of a docker node.
func (b *LinuxBackend) containerName(node string) (string, bool) {
	defer b.mu.Unlock()
	b.mu.Lock()
	cname, found := b.containers[node]
	return cname, found
}

// ReadFile implements Backend
func (b *LinuxBackend) ReadFile(ctx context.Context, node, path string) ([]byte, error) {
	if cname, found := b.containerName(node); found {
		res, err := b.runner.Output(ctx, "docker", "exec", cname, "cat", path)
		if err != nil {
			return nil, err
		}
		if res.ExitCode != 0 {
			return nil, fmt.Errorf("%w: cat %s: exit code %d", ErrCommandFailed, path, res.ExitCode)
		}
		return res.Stdout, nil
	}
	if _, err := b.execArgv(node); err != nil {
		return nil, err
	}
	return os.ReadFile(b.resolvePath(path))
}

// Stop implements Backend
func (b *LinuxBackend) Stop() error {
	b.stopOnce.Do(b.doStop)
	return nil
}

// doStop releases every resource, best effort: a teardown failure is
// logged and does not prevent tearing down the rest.
func (b *LinuxBackend) doStop() {
	defer b.mu.Unlock()
	b.mu.Lock()
	ctx := context.Background()
	for _, proc := range b.procs {
		proc.Kill()
	}
	for _, cname := range b.containers {
		if err := b.runner.Run(ctx, "docker", "rm", "-f", cname); err != nil {
			b.logger.Warnf("natlab: stop: %s", err.Error())
		}
	}
	for _, link := range b.nslinks {
		if err := os.Remove(link); err != nil {
			b.logger.Warnf("natlab: stop: %s", err.Error())
		}
	}
	if b.topo != nil {
		for _, node := range b.topo.Nodes() {
			if node.Kind == NodeKindDockerHost {
				continue
			}
			ns := b.netns[node.Name]
			if err := b.runner.Run(ctx, "ip", "netns", "del", ns); err != nil {
				b.logger.Warnf("natlab: stop: %s", err.Error())
			}
		}
	}
	for _, br := range b.bridges {
		if err := b.runner.Run(ctx, "ip", "link", "del", br); err != nil {
			b.logger.Warnf("natlab: stop: %s", err.Error())
		}
	}
	if b.workDir != "" {
		if err := os.RemoveAll(b.workDir); err != nil {
			b.logger.Warnf("natlab: stop: %s", err.Error())
		}
	}
}

// CleanLeftovers removes namespaces, containers, and bridges left
// behind by previous runs that did not tear down cleanly.
func CleanLeftovers(ctx context.Context, logger Logger) error {
	return cleanLeftovers(ctx, logger, &ExecRunner{Logger: logger})
}

func cleanLeftovers(ctx context.Context, logger Logger, runner commandRunner) error {
	// named network namespaces
	if res, err := runner.Output(ctx, "ip", "netns", "list"); err == nil {
		for _, line := range strings.Split(string(res.Stdout), "\n") {
			fields := strings.Fields(line)
			if len(fields) < 1 || !strings.HasPrefix(fields[0], resourcePrefix) {
				continue
			}
			if err := runner.Run(ctx, "ip", "netns", "del", fields[0]); err != nil {
				logger.Warnf("natlab: clean: %s", err.Error())
			}
		}
	}

	// bridges
	if res, err := runner.Output(ctx, "ip", "-o", "link", "show", "type", "bridge"); err == nil {
		for _, line := range strings.Split(string(res.Stdout), "\n") {
			name := parseLinkName(line)
			if !strings.HasPrefix(name, bridgePrefix) {
				continue
			}
			if err := runner.Run(ctx, "ip", "link", "del", name); err != nil {
				logger.Warnf("natlab: clean: %s", err.Error())
			}
		}
	}

	// containers (docker may legitimately be missing)
	res, err := runner.Output(ctx, "docker", "ps", "-a", "--filter",
		"name="+resourcePrefix, "-q")
	if err != nil {
		logger.Warnf("natlab: clean: skipping containers: %s", err.Error())
		return nil
	}
	if res.ExitCode != 0 {
		logger.Warnf("natlab: clean: skipping containers: docker ps: exit code %d", res.ExitCode)
		return nil
	}
	for _, id := range strings.Fields(string(res.Stdout)) {
		if err := runner.Run(ctx, "docker", "rm", "-f", id); err != nil {
			logger.Warnf("natlab: clean: %s", err.Error())
		}
	}
	return nil
}

// parseLinkName extracts the interface name from a line of
// `ip -o link show` output ("3: nlbr0a1b2c0: <...> ...").
func parseLinkName(line string) string {
	fields := strings.SplitN(line, ":", 3)
	if len(fields) < 2 {
		return ""
	}
	name := strings.TrimSpace(fields[1])
	// veth peers show up as "name@peer"
	if idx := strings.Index(name, "@"); idx >= 0 {
		name = name[:idx]
	}
	return name
}
