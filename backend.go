package natlab

//
// Backend test double
//

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// ErrBackendAlreadyStarted means Start was called twice.
var ErrBackendAlreadyStarted = errors.New("natlab: backend already started")

// ErrBackendNotStarted means a command was issued before Start.
var ErrBackendNotStarted = errors.New("natlab: backend not started")

// ErrNoSuchNode means a command referenced an unknown node.
var ErrNoSuchNode = errors.New("natlab: no such node")

// FakeCommand is a command recorded by a [FakeBackend].
type FakeCommand struct {
	// Node is the node the command ran in.
	Node string

	// Cmdline is the command line.
	Cmdline string

	// Background is true for background commands.
	Background bool

	// OutputFile is the output file of a background command.
	OutputFile string
}

// FakeBackend is a [Backend] for hermetic tests: it records the
// operations it performs and serves scripted command results. The
// zero value is ready to use; every unscripted command succeeds with
// empty output.
type FakeBackend struct {
	// OnRun OPTIONALLY computes the result of a foreground command.
	OnRun func(node, cmdline string) (*CmdResult, error)

	// OnBackground OPTIONALLY observes a background command, e.g.,
	// to arrange for the output file to exist.
	OnBackground func(node, cmdline, outputFile string) error

	// OnReadFile OPTIONALLY serves file reads.
	OnReadFile func(node, path string) ([]byte, error)

	// commands records the commands we were asked to run.
	commands []FakeCommand

	// mu protects all the fields below.
	mu sync.Mutex

	// started tracks whether Start has been called.
	started bool

	// stopped tracks whether Stop has been called.
	stopped bool

	// topo is the started topology.
	topo *Topology
}

var _ Backend = &FakeBackend{}

// Start implements Backend
func (b *FakeBackend) Start(ctx context.Context, topo *Topology) error {
	defer b.mu.Unlock()
	b.mu.Lock()
	if b.started {
		return ErrBackendAlreadyStarted
	}
	b.started = true
	b.topo = topo
	return nil
}

// checkNode ensures we're started and the node exists.
func (b *FakeBackend) checkNode(node string) error {
	defer b.mu.Unlock()
	b.mu.Lock()
	if !b.started || b.stopped {
		return ErrBackendNotStarted
	}
	if b.topo.Node(node) == nil {
		return fmt.Errorf("%w: %s", ErrNoSuchNode, node)
	}
	return nil
}

// Run implements Backend
func (b *FakeBackend) Run(ctx context.Context, node, cmdline string) (*CmdResult, error) {
	if err := b.checkNode(node); err != nil {
		return nil, err
	}
	b.mu.Lock()
	b.commands = append(b.commands, FakeCommand{Node: node, Cmdline: cmdline})
	b.mu.Unlock()
	if b.OnRun != nil {
		return b.OnRun(node, cmdline)
	}
	return &CmdResult{ExitCode: 0}, nil
}

// RunInBackground implements Backend
func (b *FakeBackend) RunInBackground(ctx context.Context, node, cmdline, outputFile string) error {
	if err := b.checkNode(node); err != nil {
		return err
	}
	b.mu.Lock()
	b.commands = append(b.commands, FakeCommand{
		Node:       node,
		Cmdline:    cmdline,
		Background: true,
		OutputFile: outputFile,
	})
	b.mu.Unlock()
	if b.OnBackground != nil {
		return b.OnBackground(node, cmdline, outputFile)
	}
	return nil
}

// ReadFile implements Backend
func (b *FakeBackend) ReadFile(ctx context.Context, node, path string) ([]byte, error) {
	if err := b.checkNode(node); err != nil {
		return nil, err
	}
	if b.OnReadFile != nil {
		return b.OnReadFile(node, path)
	}
	return nil, nil
}

// Stop implements Backend
func (b *FakeBackend) Stop() error {
	defer b.mu.Unlock()
	b.mu.Lock()
	b.stopped = true
	return nil
}

// Commands returns a copy of the recorded commands.
func (b *FakeBackend) Commands() []FakeCommand {
	defer b.mu.Unlock()
	b.mu.Lock()
	out := []FakeCommand{}
	out = append(out, b.commands...)
	return out
}

// Stopped returns whether Stop has been called.
func (b *FakeBackend) Stopped() bool {
	defer b.mu.Unlock()
	b.mu.Lock()
	return b.stopped
}
