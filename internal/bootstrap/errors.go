package bootstrap

import "fmt"

// InstallError is a failed OS installation. Fatal for the node's task.
type InstallError struct {
	Node string
	Err  error
}

func (e *InstallError) Error() string {
	return fmt.Sprintf("node %s: install failed: %v", e.Node, e.Err)
}

func (e *InstallError) Unwrap() error { return e.Err }

// RebootTimeoutError is a node that never came back after reboot.
type RebootTimeoutError struct {
	Node string
	Err  error
}

func (e *RebootTimeoutError) Error() string {
	return fmt.Sprintf("node %s: not reachable after reboot: %v", e.Node, e.Err)
}

func (e *RebootTimeoutError) Unwrap() error { return e.Err }

// InitTimeoutError is the initiator's control plane never answering the
// readiness endpoint. Fatal for the whole run.
type InitTimeoutError struct {
	Node string
	Err  error
}

func (e *InitTimeoutError) Error() string {
	return fmt.Sprintf("node %s: control plane never became ready: %v", e.Node, e.Err)
}

func (e *InitTimeoutError) Unwrap() error { return e.Err }

// RenderError is a configuration rendering failure. Rendering is pure, so
// this indicates a programming defect rather than an environmental one.
type RenderError struct {
	Node string
	Err  error
}

func (e *RenderError) Error() string {
	return fmt.Sprintf("node %s: config rendering defect: %v", e.Node, e.Err)
}

func (e *RenderError) Unwrap() error { return e.Err }

// JoinPreconditionError is a join observed without a published cluster
// token. The barrier makes this impossible; any occurrence is an ordering
// bug, not an environmental failure.
type JoinPreconditionError struct {
	Node   string
	Reason string
}

func (e *JoinPreconditionError) Error() string {
	return fmt.Sprintf("node %s: join precondition unmet: %s", e.Node, e.Reason)
}
