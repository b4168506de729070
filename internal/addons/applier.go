// Package addons applies the one-time add-on bundle and seeds the cluster
// secrets the bundle's workloads depend on.
package addons

import (
	"context"
	"errors"
	"fmt"
	"log"
	"path"

	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	sigsyaml "sigs.k8s.io/yaml"

	"github.com/k3boot/k3boot/internal/addons/k8sclient"
	"github.com/k3boot/k3boot/internal/config"
	"github.com/k3boot/k3boot/internal/render"
	"github.com/k3boot/k3boot/internal/sshexec"
)

// remoteBundleDir is where the bundle lands on the first control plane.
const remoteBundleDir = "/var/post-install"

// ApplyError reports a failed add-on bundle apply. It does not invalidate
// node readiness already achieved.
type ApplyError struct {
	Err error
}

func (e *ApplyError) Error() string {
	return fmt.Sprintf("add-on bundle apply failed: %v", e.Err)
}

func (e *ApplyError) Unwrap() error {
	return e.Err
}

// Applier installs the add-on bundle through the first control plane node
// and seeds secrets through the cluster API. The merge-based apply is
// idempotent; the orchestrator additionally tracks an applied flag so the
// bundle is not re-applied within a run.
type Applier struct {
	comm   sshexec.Communicator
	client k8sclient.Client
	cfg    *config.Config
	bundle render.ManifestBundle
}

// New creates an Applier for the cluster described by cfg.
func New(comm sshexec.Communicator, client k8sclient.Client, cfg *config.Config) *Applier {
	return &Applier{
		comm:   comm,
		client: client,
		cfg:    cfg,
		bundle: render.DefaultBundle(cfg),
	}
}

// SeedSecrets upserts the cloud-provider and storage-driver secrets the
// bundle's controllers mount. Reruns over a partially bootstrapped cluster
// are safe; see k8sclient.ApplySecret.
func (a *Applier) SeedSecrets(ctx context.Context) error {
	secrets := []*corev1.Secret{
		{
			ObjectMeta: metav1.ObjectMeta{Name: "hcloud", Namespace: "kube-system"},
			Type:       corev1.SecretTypeOpaque,
			StringData: map[string]string{
				"token":   a.cfg.HCloudToken,
				"network": a.cfg.NetworkName,
			},
		},
		{
			ObjectMeta: metav1.ObjectMeta{Name: "hcloud-csi", Namespace: "kube-system"},
			Type:       corev1.SecretTypeOpaque,
			StringData: map[string]string{
				"token": a.cfg.HCloudToken,
			},
		},
	}

	for _, secret := range secrets {
		if err := a.client.ApplySecret(ctx, secret); err != nil {
			return fmt.Errorf("failed to seed secret %s: %w", secret.Name, err)
		}
	}
	return nil
}

// Apply uploads the rendered bundle to the node and runs the merge-based
// apply. Calling it again produces the same cluster state.
func (a *Applier) Apply(ctx context.Context) error {
	files, err := a.bundle.Files()
	if err != nil {
		return &ApplyError{Err: err}
	}
	if err := a.validatePatches(files); err != nil {
		return &ApplyError{Err: err}
	}

	for _, name := range render.FileNames(files) {
		dest := path.Join(remoteBundleDir, name)
		if err := a.comm.UploadFile(ctx, files[name], dest); err != nil {
			return &ApplyError{Err: fmt.Errorf("failed to upload %s: %w", name, err)}
		}
	}

	log.Println("Applying add-on bundle...")
	output, err := a.comm.Execute(ctx, "kubectl apply -k "+remoteBundleDir)
	if err != nil {
		var exitErr *sshexec.ExitError
		if errors.As(err, &exitErr) {
			return &ApplyError{Err: fmt.Errorf("apply exited %d: %s", exitErr.ExitCode, exitErr.Output)}
		}
		return &ApplyError{Err: err}
	}
	_ = output

	return nil
}

// validatePatches rejects patch documents that would fail the remote apply
// anyway: every strategic-merge patch must name a target object.
func (a *Applier) validatePatches(files map[string][]byte) error {
	for _, name := range render.FileNames(files) {
		if name == render.KustomizationFile {
			continue
		}
		var obj struct {
			APIVersion string `json:"apiVersion"`
			Kind       string `json:"kind"`
			Metadata   struct {
				Name string `json:"name"`
			} `json:"metadata"`
		}
		if err := sigsyaml.Unmarshal(files[name], &obj); err != nil {
			return fmt.Errorf("patch %s is not valid YAML: %w", name, err)
		}
		if obj.Kind == "" || obj.Metadata.Name == "" {
			return fmt.Errorf("patch %s must carry kind and metadata.name", name)
		}
	}
	return nil
}
