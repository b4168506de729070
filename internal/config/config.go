// Package config defines the cluster configuration, the declared node set,
// and the tunable timeouts for a bootstrap run.
package config

import (
	"fmt"
	"strings"
)

// Role identifies a node's function in the cluster.
type Role string

const (
	// RoleFirstControlPlane is the single node that initiates the cluster
	// and publishes the join token. Exactly one node must carry this role.
	RoleFirstControlPlane Role = "first-control-plane"
	// RoleControlPlane is an additional control plane member joining the
	// already-initiated cluster.
	RoleControlPlane Role = "control-plane"
	// RoleAgent is a workload-only node.
	RoleAgent Role = "agent"
)

// IsValid returns true if the role is one of the known roles.
func (r Role) IsValid() bool {
	switch r {
	case RoleFirstControlPlane, RoleControlPlane, RoleAgent:
		return true
	}
	return false
}

// IsControlPlane returns true for both control plane roles.
func (r Role) IsControlPlane() bool {
	return r == RoleFirstControlPlane || r == RoleControlPlane
}

// NodeSpec describes one declared cluster member. The underlying server is
// created by an external resource engine; k3boot only needs an address to
// reach it. A NodeSpec is immutable once the run starts.
type NodeSpec struct {
	// Name is the cluster-unique node name, also used as the k3s node-name.
	Name string `yaml:"name"`

	// Role is one of first-control-plane, control-plane, agent.
	Role Role `yaml:"role"`

	// Location is the datacenter the server lives in (informational).
	Location string `yaml:"location,omitempty"`

	// ServerType is the machine size (informational).
	ServerType string `yaml:"server_type,omitempty"`

	// PrivateIP is the node address on the cluster's private network.
	// Resolved from the cloud API when left empty and discovery is enabled.
	PrivateIP string `yaml:"private_ip,omitempty"`

	// Endpoint is the public SSH endpoint, host or host:port.
	// Resolved from the cloud API when left empty and discovery is enabled.
	Endpoint string `yaml:"endpoint,omitempty"`
}

// Config holds the cluster-wide parameters for a bootstrap run.
// It is supplied at orchestration start and never mutated during a run.
type Config struct {
	ClusterName string `yaml:"cluster_name"`

	// Channel is the k3s release channel (stable, latest, v1.31, ...).
	Channel string `yaml:"k3s_channel,omitempty"`

	// ScheduleOnControlPlane permits regular workloads on control plane
	// nodes. When false, control plane nodes are tainted.
	ScheduleOnControlPlane bool `yaml:"schedule_on_control_plane,omitempty"`

	// FlannelInterface is the private network interface flannel binds to.
	FlannelInterface string `yaml:"flannel_iface,omitempty"`

	// MaxConcurrentNodes bounds parallel per-node provisioning tasks.
	MaxConcurrentNodes int `yaml:"max_concurrent_nodes,omitempty"`

	// FailBelowQuorum makes the run exit non-zero when fewer control plane
	// nodes than quorum reach Ready, even if the initiator succeeded.
	// Defaults to true; a sub-quorum cluster is not highly available.
	FailBelowQuorum *bool `yaml:"fail_below_quorum,omitempty"`

	// HCloudToken authorizes node discovery and is seeded into the cluster
	// for the cloud controller manager and CSI driver. Usually set via the
	// HCLOUD_TOKEN environment variable rather than the file.
	HCloudToken string `yaml:"hcloud_token,omitempty"`

	// NetworkName is the private network the cluster is attached to,
	// seeded into the cloud controller manager secret.
	NetworkName string `yaml:"network_name,omitempty"`

	// SSHUser is the login user on the raw nodes (root in rescue mode).
	SSHUser string `yaml:"ssh_user,omitempty"`

	// KubeconfigPath is where the admin kubeconfig is written after the
	// cluster is initiated.
	KubeconfigPath string `yaml:"kubeconfig_path,omitempty"`

	Addons AddonsConfig `yaml:"addons,omitempty"`

	Nodes []NodeSpec `yaml:"nodes"`
}

// AddonsConfig pins the versions of the one-time add-on bundle and carries
// optional strategic-merge patches applied on top of the upstream manifests.
type AddonsConfig struct {
	CCMVersion          string `yaml:"ccm_version,omitempty"`
	CSIVersion          string `yaml:"csi_version,omitempty"`
	KuredVersion        string `yaml:"kured_version,omitempty"`
	IngressNginxVersion string `yaml:"ingress_nginx_version,omitempty"`

	// Patches are inline strategic-merge patch documents, written next to
	// the kustomization and listed under patchesStrategicMerge.
	Patches []Patch `yaml:"patches,omitempty"`
}

// Patch is a named strategic-merge patch document.
type Patch struct {
	Name    string `yaml:"name"`
	Content string `yaml:"content"`
}

// FirstControlPlane returns the node declared as first-control-plane.
// Validate guarantees exactly one exists.
func (c *Config) FirstControlPlane() NodeSpec {
	for _, n := range c.Nodes {
		if n.Role == RoleFirstControlPlane {
			return n
		}
	}
	return NodeSpec{}
}

// ControlPlaneCount returns the number of declared control plane nodes,
// the initiator included.
func (c *Config) ControlPlaneCount() int {
	count := 0
	for _, n := range c.Nodes {
		if n.Role.IsControlPlane() {
			count++
		}
	}
	return count
}

// AgentCount returns the number of declared agent nodes.
func (c *Config) AgentCount() int {
	count := 0
	for _, n := range c.Nodes {
		if n.Role == RoleAgent {
			count++
		}
	}
	return count
}

// Quorum returns the control plane majority required for the embedded
// datastore to stay available.
func (c *Config) Quorum() int {
	return c.ControlPlaneCount()/2 + 1
}

// FailsBelowQuorum reports the configured sub-quorum policy.
func (c *Config) FailsBelowQuorum() bool {
	if c.FailBelowQuorum == nil {
		return true
	}
	return *c.FailBelowQuorum
}

// Validate checks the configuration invariants.
func (c *Config) Validate() error {
	if c.ClusterName == "" {
		return fmt.Errorf("cluster_name is required")
	}
	if len(c.Nodes) == 0 {
		return fmt.Errorf("at least one node is required")
	}

	firstCount := 0
	seen := make(map[string]bool, len(c.Nodes))
	for _, n := range c.Nodes {
		if n.Name == "" {
			return fmt.Errorf("every node needs a name")
		}
		if seen[n.Name] {
			return fmt.Errorf("duplicate node name %q", n.Name)
		}
		seen[n.Name] = true

		if !n.Role.IsValid() {
			return fmt.Errorf("node %q: unknown role %q", n.Name, n.Role)
		}
		if n.Role == RoleFirstControlPlane {
			firstCount++
		}
	}
	if firstCount != 1 {
		return fmt.Errorf("exactly one node must have role %s, got %d", RoleFirstControlPlane, firstCount)
	}

	for _, n := range c.Nodes {
		if n.Endpoint != "" && strings.Contains(n.Endpoint, " ") {
			return fmt.Errorf("node %q: malformed endpoint %q", n.Name, n.Endpoint)
		}
	}

	return nil
}
