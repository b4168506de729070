// Package inventory resolves the network addresses of declared nodes
// before provisioning starts. Nodes can carry their addresses in the
// configuration directly, or have them discovered from the cloud API by
// server name.
package inventory

import (
	"context"
	"fmt"

	"github.com/k3boot/k3boot/internal/config"
)

// Source fills in the Endpoint and PrivateIP of every declared node.
type Source interface {
	Resolve(ctx context.Context, cfg *config.Config) error
}

// Static uses only the addresses already present in the configuration.
type Static struct{}

// Resolve verifies that every node carries both addresses.
func (Static) Resolve(_ context.Context, cfg *config.Config) error {
	for _, node := range cfg.Nodes {
		if node.Endpoint == "" {
			return fmt.Errorf("node %s: no endpoint declared and no discovery configured", node.Name)
		}
		if node.PrivateIP == "" {
			return fmt.Errorf("node %s: no private IP declared and no discovery configured", node.Name)
		}
	}
	return nil
}

// ForConfig picks the source matching the configuration: cloud discovery
// when an API token is present, static addresses otherwise.
func ForConfig(cfg *config.Config) Source {
	if cfg.HCloudToken != "" {
		return NewHCloud(cfg.HCloudToken)
	}
	return Static{}
}
