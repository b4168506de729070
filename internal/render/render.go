// Package render produces per-node k3s configuration and the add-on
// manifest bundle from cluster parameters.
//
// Rendering is pure: identical inputs always yield byte-identical output,
// so re-running a bootstrap rewrites the same files instead of drifting.
package render

import (
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/k3boot/k3boot/internal/config"
)

// ControlPlaneTaint keeps regular workloads off control plane nodes when
// scheduling on them is not permitted.
const ControlPlaneTaint = "CriticalAddonsOnly=true:NoExecute"

// Input carries everything node configuration depends on.
type Input struct {
	Role    config.Role
	Cluster *config.Config
	Node    config.NodeSpec

	// Token is the shared cluster secret. Empty only for the initiator
	// before the token exists is not allowed; the initiator generates the
	// token first and renders with it.
	Token string

	// ServerURL is the API address of the initiated cluster. Empty for
	// the initiator, which starts with cluster-init instead.
	ServerURL string
}

// serverConfig is the k3s server config.yaml shape.
type serverConfig struct {
	NodeName         string   `yaml:"node-name"`
	ClusterInit      bool     `yaml:"cluster-init,omitempty"`
	Server           string   `yaml:"server,omitempty"`
	Token            string   `yaml:"token"`
	Disable          []string `yaml:"disable"`
	FlannelIface     string   `yaml:"flannel-iface"`
	KubeletArg       []string `yaml:"kubelet-arg"`
	NodeIP           string   `yaml:"node-ip"`
	AdvertiseAddress string   `yaml:"advertise-address"`
	NodeTaint        []string `yaml:"node-taint"`
}

// agentConfig is the k3s agent config.yaml shape.
type agentConfig struct {
	NodeName     string   `yaml:"node-name"`
	Server       string   `yaml:"server"`
	Token        string   `yaml:"token"`
	FlannelIface string   `yaml:"flannel-iface"`
	KubeletArg   []string `yaml:"kubelet-arg"`
	NodeIP       string   `yaml:"node-ip"`
}

// NodeConfig renders the k3s config.yaml for a node. The shape depends on
// the role: servers carry the datastore flags and taints, agents only the
// join parameters.
func NodeConfig(in Input) ([]byte, error) {
	if in.Token == "" {
		return nil, fmt.Errorf("node %s: token is required", in.Node.Name)
	}

	if in.Role == config.RoleAgent {
		if in.ServerURL == "" {
			return nil, fmt.Errorf("node %s: agent needs a server URL", in.Node.Name)
		}
		cfg := agentConfig{
			NodeName:     in.Node.Name,
			Server:       in.ServerURL,
			Token:        in.Token,
			FlannelIface: in.Cluster.FlannelInterface,
			KubeletArg:   []string{"cloud-provider=external"},
			NodeIP:       in.Node.PrivateIP,
		}
		return marshalStrict(cfg)
	}

	if in.Role == config.RoleControlPlane && in.ServerURL == "" {
		return nil, fmt.Errorf("node %s: joining server needs a server URL", in.Node.Name)
	}

	taints := []string{}
	if !in.Cluster.ScheduleOnControlPlane {
		taints = []string{ControlPlaneTaint}
	}

	cfg := serverConfig{
		NodeName:         in.Node.Name,
		ClusterInit:      in.Role == config.RoleFirstControlPlane,
		Server:           in.ServerURL,
		Token:            in.Token,
		Disable:          []string{"local-storage", "servicelb", "traefik"},
		FlannelIface:     in.Cluster.FlannelInterface,
		KubeletArg:       []string{"cloud-provider=external"},
		NodeIP:           in.Node.PrivateIP,
		AdvertiseAddress: in.Node.PrivateIP,
		NodeTaint:        taints,
	}
	return marshalStrict(cfg)
}

func marshalStrict(v any) ([]byte, error) {
	out, err := yaml.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal node config: %w", err)
	}
	return out, nil
}
