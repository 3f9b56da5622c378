package natlab

//
// Proxy exercise
//

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrProxyNotReady means the proxy server did not publish its address
// within the configured timeout.
var ErrProxyNotReady = errors.New("natlab: proxy did not publish its address")

// ErrProxyClientFailed means the proxy client exited nonzero.
var ErrProxyClientFailed = errors.New("natlab: proxy client failed")

// ProxyConfig configures [RunProxyCheck]. The zero value is invalid:
// ServerNode, ServerCommand, and at least one client node must be set.
type ProxyConfig struct {
	// ServerNode is the node where the proxy server runs.
	ServerNode string

	// ServerCommand is the command line starting the proxy server. The
	// server is expected to print the address it is reachable at as
	// the first line of its output.
	ServerCommand string

	// ClientNodes are the nodes that run the client against the
	// address published by the server.
	ClientNodes []string

	// ClientCommand is the client binary; the published address is
	// appended as its sole argument.
	ClientCommand string

	// OutputFile is the OPTIONAL name of the file capturing the
	// server's output; the default is "proxy-output".
	OutputFile string

	// ReadyTimeout is the OPTIONAL maximum time to wait for the
	// server to publish its address; the default is 30 seconds.
	ReadyTimeout time.Duration

	// PollInterval is the OPTIONAL interval between two reads of the
	// output file; the default is 500 milliseconds.
	PollInterval time.Duration
}

// outputFile returns the output file name to use.
func (pc *ProxyConfig) outputFile() string {
	if pc.OutputFile != "" {
		return pc.OutputFile
	}
	return "proxy-output"
}

// readyTimeout returns the readiness timeout to use.
func (pc *ProxyConfig) readyTimeout() time.Duration {
	if pc.ReadyTimeout > 0 {
		return pc.ReadyTimeout
	}
	return 30 * time.Second
}

// pollInterval returns the poll interval to use.
func (pc *ProxyConfig) pollInterval() time.Duration {
	if pc.PollInterval > 0 {
		return pc.PollInterval
	}
	return 500 * time.Millisecond
}

// RunProxyCheck exercises a peer-to-peer proxy across the topology:
//
// 1. start the server detached on ServerNode with its output captured
// to the output file;
//
// 2. poll the output file until its first line (the address the
// server advertises) appears, rather than sleeping a fixed amount of
// time and hoping the server has started;
//
// 3. run the client from each of the ClientNodes against the
// published address and require it to exit successfully.
//
// The server keeps running until the backend stops; the proxy binary
// itself is an opaque external program.
func RunProxyCheck(ctx context.Context, backend Backend, logger Logger, config *ProxyConfig) error {
	err := backend.RunInBackground(
		ctx, config.ServerNode, config.ServerCommand, config.outputFile(),
	)
	if err != nil {
		return err
	}

	addr, err := awaitFirstLine(
		ctx,
		backend,
		config.ServerNode,
		config.outputFile(),
		config.readyTimeout(),
		config.pollInterval(),
	)
	if err != nil {
		return err
	}
	logger.Infof("natlab: proxy listening at %s", addr)

	for _, client := range config.ClientNodes {
		cmdline := fmt.Sprintf("%s %s", config.ClientCommand, addr)
		res, err := backend.Run(ctx, client, cmdline)
		if err != nil {
			return err
		}
		if res.ExitCode != 0 {
			return fmt.Errorf(
				"%w: %s: exit code %d", ErrProxyClientFailed, client, res.ExitCode,
			)
		}
		logger.Infof("natlab: proxy client on %s succeeded", client)
	}
	return nil
}

// awaitFirstLine polls the given file inside the given node until a
// complete first line appears, the timeout expires, or the context is
// canceled.
func awaitFirstLine(
	ctx context.Context,
	backend Backend,
	node string,
	path string,
	timeout time.Duration,
	interval time.Duration,
) (string, error) {
	deadline := time.Now().Add(timeout)
	for {
		data, err := backend.ReadFile(ctx, node, path)
		if err == nil {
			if idx := bytes.IndexByte(data, '\n'); idx >= 0 {
				line := string(bytes.TrimSpace(data[:idx]))
				if line != "" {
					return line, nil
				}
			}
		}
		if time.Now().After(deadline) {
			return "", fmt.Errorf("%w: %s on %s", ErrProxyNotReady, path, node)
		}
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(interval):
		}
	}
}
