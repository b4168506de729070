package inventory

import (
	"context"
	"fmt"

	"github.com/hetznercloud/hcloud-go/v2/hcloud"

	"github.com/k3boot/k3boot/internal/config"
	"github.com/k3boot/k3boot/internal/util/retry"
)

// hcloudAPI is the slice of the Hetzner Cloud API the resolver needs.
type hcloudAPI interface {
	ServerByName(ctx context.Context, name string) (*hcloud.Server, error)
	NetworkByName(ctx context.Context, name string) (*hcloud.Network, error)
}

type realAPI struct {
	client *hcloud.Client
}

func (a *realAPI) ServerByName(ctx context.Context, name string) (*hcloud.Server, error) {
	server, _, err := a.client.Server.Get(ctx, name)
	return server, err
}

func (a *realAPI) NetworkByName(ctx context.Context, name string) (*hcloud.Network, error) {
	network, _, err := a.client.Network.Get(ctx, name)
	return network, err
}

// HCloud discovers node addresses from the Hetzner Cloud API by server
// name. The public IPv4 becomes the SSH endpoint; the address on the
// configured private network becomes the node IP.
type HCloud struct {
	api       hcloudAPI
	retryOpts []retry.Option
}

// NewHCloud creates a resolver backed by the real API.
func NewHCloud(token string) *HCloud {
	return &HCloud{api: &realAPI{client: hcloud.NewClient(hcloud.WithToken(token))}}
}

// Resolve looks up every node missing an address. Declared addresses are
// left untouched, so a partially static inventory works.
func (h *HCloud) Resolve(ctx context.Context, cfg *config.Config) error {
	var network *hcloud.Network
	if cfg.NetworkName != "" {
		var err error
		network, err = h.api.NetworkByName(ctx, cfg.NetworkName)
		if err != nil {
			return fmt.Errorf("failed to get network %s: %w", cfg.NetworkName, err)
		}
		if network == nil {
			return fmt.Errorf("network not found: %s", cfg.NetworkName)
		}
	}

	for i := range cfg.Nodes {
		node := &cfg.Nodes[i]
		if node.Endpoint != "" && node.PrivateIP != "" {
			continue
		}
		if err := h.resolveNode(ctx, node, network); err != nil {
			return err
		}
	}
	return nil
}

func (h *HCloud) resolveNode(ctx context.Context, node *config.NodeSpec, network *hcloud.Network) error {
	var server *hcloud.Server

	// The API call is the transient part; a missing server is fatal.
	err := retry.Do(ctx, func() error {
		found, err := h.api.ServerByName(ctx, node.Name)
		if err != nil {
			return err
		}
		if found == nil {
			return retry.Fatal(fmt.Errorf("server not found: %s", node.Name))
		}
		server = found
		return nil
	}, h.retryOpts...)
	if err != nil {
		return fmt.Errorf("node %s: %w", node.Name, err)
	}

	if node.Endpoint == "" {
		if server.PublicNet.IPv4.IP == nil {
			return fmt.Errorf("node %s: server has no public IPv4", node.Name)
		}
		node.Endpoint = server.PublicNet.IPv4.IP.String()
	}

	if node.PrivateIP == "" {
		if network == nil {
			return fmt.Errorf("node %s: private IP discovery requires a network name", node.Name)
		}
		for _, attachment := range server.PrivateNet {
			if attachment.Network != nil && attachment.Network.ID == network.ID {
				node.PrivateIP = attachment.IP.String()
				return nil
			}
		}
		return fmt.Errorf("node %s: server not attached to network %s", node.Name, network.Name)
	}
	return nil
}
