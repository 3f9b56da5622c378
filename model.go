package natlab

//
// Data model
//

import (
	"context"
)

// Logger is the logger we're using.
type Logger interface {
	// Debugf formats and emits a debug message.
	Debugf(format string, v ...any)

	// Debug emits a debug message.
	Debug(message string)

	// Infof formats and emits an informational message.
	Infof(format string, v ...any)

	// Info emits an informational message.
	Info(message string)

	// Warnf formats and emits a warning message.
	Warnf(format string, v ...any)

	// Warn emits a warning message.
	Warn(message string)
}

// NullLogger is a [Logger] that does not emit logs.
type NullLogger struct{}

var _ Logger = &NullLogger{}

// Debug implements Logger
func (nl *NullLogger) Debug(message string) {
	// nothing
}

// Debugf implements Logger
func (nl *NullLogger) Debugf(format string, v ...any) {
	// nothing
}

// Info implements Logger
func (nl *NullLogger) Info(message string) {
	// nothing
}

// Infof implements Logger
func (nl *NullLogger) Infof(format string, v ...any) {
	// nothing
}

// Warn implements Logger
func (nl *NullLogger) Warn(message string) {
	// nothing
}

// Warnf implements Logger
func (nl *NullLogger) Warnf(format string, v ...any) {
	// nothing
}

// CmdResult is the result of running a command inside a virtual node.
type CmdResult struct {
	// Stdout contains the captured standard output.
	Stdout []byte

	// Stderr contains the captured standard error.
	Stderr []byte

	// ExitCode is the command's exit code.
	ExitCode int
}

// Backend is the external network controller: it turns a declared
// [Topology] into live virtual resources and executes commands inside
// the virtual nodes. Implementations delegate the actual networking
// to the operating system (see [LinuxBackend]) or fake it for testing
// purposes (see [FakeBackend]).
type Backend interface {
	// Start instantiates the given topology. Start fails if the
	// backend has already been started.
	Start(ctx context.Context, topo *Topology) error

	// Run executes cmdline inside the given node, waits for the
	// command to complete, and returns the captured output along with
	// the exit code. The returned error is non-nil only when the
	// command could not be executed at all; a command that runs and
	// fails yields a nil error and a nonzero CmdResult.ExitCode.
	Run(ctx context.Context, node string, cmdline string) (*CmdResult, error)

	// RunInBackground starts cmdline inside the given node, detached,
	// with its combined stdout and stderr redirected to outputFile as
	// seen by the node. The command keeps running until Stop.
	RunInBackground(ctx context.Context, node string, cmdline string, outputFile string) error

	// ReadFile returns the content of the given file as seen by the
	// given node.
	ReadFile(ctx context.Context, node string, path string) ([]byte, error)

	// Stop terminates background commands and releases all the
	// resources created by Start. Stop is best effort and idempotent.
	Stop() error
}
