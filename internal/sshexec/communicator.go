// Package sshexec provides remote command execution on cluster nodes.
//
// The orchestrator core only depends on the [Communicator] interface; the
// SSH implementation lives in this package too but is injected from the
// outside, keeping state machines testable with a fake.
package sshexec

import (
	"context"
	"fmt"
)

// Communicator executes commands and uploads files on a single node.
type Communicator interface {
	// Execute runs a command on the node and returns its combined output.
	// A non-zero exit status is returned as an *ExitError.
	Execute(ctx context.Context, command string) (string, error)

	// UploadFile writes content to the given path on the node.
	UploadFile(ctx context.Context, content []byte, remotePath string) error
}

// Factory builds a Communicator for an endpoint (host or host:port).
type Factory func(endpoint string) (Communicator, error)

// ExitError reports a remote command that ran but exited non-zero.
type ExitError struct {
	Command  string
	ExitCode int
	Output   string
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("remote command exited with status %d: %s", e.ExitCode, e.Command)
}
