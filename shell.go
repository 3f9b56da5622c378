package natlab

//
// Command execution
//

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"

	"github.com/google/shlex"
	"golang.org/x/sys/execabs"
)

// ErrNoCommandToExecute means that the command line is empty.
var ErrNoCommandToExecute = errors.New("natlab: no command to execute")

// ErrCommandFailed means that a setup command exited nonzero.
var ErrCommandFailed = errors.New("natlab: command failed")

// ParseCommandLine splits a shell-like command line into an argv.
func ParseCommandLine(cmdline string) ([]string, error) {
	argv, err := shlex.Split(cmdline)
	if err != nil {
		return nil, err
	}
	if len(argv) < 1 {
		return nil, ErrNoCommandToExecute
	}
	return argv, nil
}

// ExecDeps abstracts the process-spawning functions used by
// [ExecRunner] such that we can write hermetic tests.
type ExecDeps interface {
	// CmdOutput is equivalent to calling c.Output.
	CmdOutput(c *execabs.Cmd) ([]byte, error)

	// CmdStart is equivalent to calling c.Start.
	CmdStart(c *execabs.Cmd) error

	// LookPath is equivalent to calling execabs.LookPath.
	LookPath(file string) (string, error)
}

// StdlibExecDeps is the [ExecDeps] using the stdlib.
type StdlibExecDeps struct{}

var _ ExecDeps = &StdlibExecDeps{}

// CmdOutput implements ExecDeps
func (*StdlibExecDeps) CmdOutput(c *execabs.Cmd) ([]byte, error) {
	return c.Output()
}

// CmdStart implements ExecDeps
func (*StdlibExecDeps) CmdStart(c *execabs.Cmd) error {
	return c.Start()
}

// LookPath implements ExecDeps
func (*StdlibExecDeps) LookPath(file string) (string, error) {
	return execabs.LookPath(file)
}

// ExecRunner executes external commands on the local system, logging
// each command it is about to run. The zero value is a working runner
// that uses the stdlib and does not log.
type ExecRunner struct {
	// Deps is the OPTIONAL [ExecDeps] to use.
	Deps ExecDeps

	// Logger is the OPTIONAL logger to use.
	Logger Logger
}

// deps returns a suitable [ExecDeps].
func (r *ExecRunner) deps() ExecDeps {
	if r.Deps != nil {
		return r.Deps
	}
	return &StdlibExecDeps{}
}

// logger returns a suitable [Logger].
func (r *ExecRunner) logger() Logger {
	if r.Logger != nil {
		return r.Logger
	}
	return &NullLogger{}
}

// Output runs the given argv, waits for it to complete, and returns
// the captured stdout, stderr, and exit code. The returned error is
// non-nil only when we could not execute the command at all.
func (r *ExecRunner) Output(ctx context.Context, argv ...string) (*CmdResult, error) {
	if len(argv) < 1 {
		return nil, ErrNoCommandToExecute
	}
	fullpath, err := r.deps().LookPath(argv[0])
	if err != nil {
		return nil, err
	}
	r.logger().Infof("+ %s", quotedCommandLine(argv...))
	cmd := execabs.CommandContext(ctx, fullpath, argv[1:]...)
	stdout, err := r.deps().CmdOutput(cmd)
	if err != nil {
		// A canceled context kills the child: report the cancellation
		// rather than the synthetic exit code.
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			return nil, err
		}
		return &CmdResult{
			Stdout:   stdout,
			Stderr:   exitErr.Stderr,
			ExitCode: exitErr.ExitCode(),
		}, nil
	}
	return &CmdResult{Stdout: stdout, ExitCode: 0}, nil
}

// Run is like [ExecRunner.Output] except that it maps a nonzero exit
// code to an error, which is what setup commands want.
func (r *ExecRunner) Run(ctx context.Context, argv ...string) error {
	res, err := r.Output(ctx, argv...)
	if err != nil {
		return err
	}
	if res.ExitCode != 0 {
		return fmt.Errorf(
			"%w: %s: exit code %d: %s",
			ErrCommandFailed,
			argv[0],
			res.ExitCode,
			strings.TrimSpace(string(res.Stderr)),
		)
	}
	return nil
}

// BackgroundProc is a process started by [ExecRunner.StartBackground]
// whose combined output is being captured to a file.
type BackgroundProc struct {
	// cmd is the running command.
	cmd *execabs.Cmd

	// fp is the open output file.
	fp io.Closer

	// killOnce provides "once" semantics for Kill.
	killOnce sync.Once
}

// Kill terminates the process, reaps it, and closes the output file.
func (bp *BackgroundProc) Kill() {
	bp.killOnce.Do(func() {
		if bp.cmd != nil && bp.cmd.Process != nil {
			bp.cmd.Process.Kill()
			bp.cmd.Wait()
		}
		if bp.fp != nil {
			bp.fp.Close()
		}
	})
}

// StartBackground starts the given argv detached with its combined
// stdout and stderr redirected to outputFile. The caller owns the
// returned [BackgroundProc] and must eventually call Kill.
func (r *ExecRunner) StartBackground(ctx context.Context, outputFile string, argv ...string) (*BackgroundProc, error) {
	if len(argv) < 1 {
		return nil, ErrNoCommandToExecute
	}
	fullpath, err := r.deps().LookPath(argv[0])
	if err != nil {
		return nil, err
	}
	fp, err := os.OpenFile(outputFile, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0644)
	if err != nil {
		return nil, err
	}
	r.logger().Infof("+ %s > %s 2>&1 &", quotedCommandLine(argv...), outputFile)
	cmd := execabs.CommandContext(ctx, fullpath, argv[1:]...)
	cmd.Stdout = fp
	cmd.Stderr = fp
	if err := r.deps().CmdStart(cmd); err != nil {
		fp.Close()
		return nil, err
	}
	return &BackgroundProc{cmd: cmd, fp: fp}, nil
}

// quotedCommandLine returns a quoted command line.
func quotedCommandLine(argv ...string) string {
	v := []string{}
	for _, a := range argv {
		v = append(v, maybeQuoteArg(a))
	}
	return strings.Join(v, " ")
}

// maybeQuoteArg quotes a command line argument if needed.
func maybeQuoteArg(a string) string {
	if strings.Contains(a, "\"") {
		a = strings.ReplaceAll(a, "\"", "\\\"")
	}
	if strings.Contains(a, " ") {
		a = "\"" + a + "\""
	}
	return a
}
