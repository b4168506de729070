package handlers

import (
	"fmt"
	"io"

	"github.com/k3boot/k3boot/internal/config"
	"github.com/k3boot/k3boot/internal/render"
)

// tokenPlaceholder stands in for the join token, which only exists once a
// bootstrap run has minted it.
const tokenPlaceholder = "<generated-at-bootstrap>"

// Render prints the k3s configuration the named node would receive.
func Render(w io.Writer, configPath, nodeName string) error {
	cfg, err := loadConfigFile(configPath)
	if err != nil {
		return err
	}

	var node *config.NodeSpec
	for i := range cfg.Nodes {
		if cfg.Nodes[i].Name == nodeName {
			node = &cfg.Nodes[i]
			break
		}
	}
	if node == nil {
		return fmt.Errorf("node not declared: %s", nodeName)
	}

	in := render.Input{
		Role:    node.Role,
		Cluster: cfg,
		Node:    *node,
		Token:   tokenPlaceholder,
	}
	if node.Role != config.RoleFirstControlPlane {
		first := cfg.FirstControlPlane()
		in.ServerURL = fmt.Sprintf("https://%s:6443", first.PrivateIP)
	}

	content, err := render.NodeConfig(in)
	if err != nil {
		return err
	}

	_, err = w.Write(content)
	return err
}

// RenderAddons prints the add-on bundle as a multi-document stream, the
// kustomization first.
func RenderAddons(w io.Writer, configPath string) error {
	cfg, err := loadConfigFile(configPath)
	if err != nil {
		return err
	}

	files, err := render.DefaultBundle(cfg).Files()
	if err != nil {
		return err
	}

	for i, name := range render.FileNames(files) {
		if i > 0 {
			fmt.Fprintln(w, "---")
		}
		fmt.Fprintf(w, "# %s\n", name)
		if _, err := w.Write(files[name]); err != nil {
			return err
		}
	}
	return nil
}
