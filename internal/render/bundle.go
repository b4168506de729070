package render

import (
	"fmt"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/k3boot/k3boot/internal/config"
)

// KustomizationFile is the name of the bundle's entry point.
const KustomizationFile = "kustomization.yaml"

// ManifestBundle is the one-time add-on set applied after the cluster is
// initiated: cloud controller manager, CSI driver, the reboot daemon, and
// the ingress controller, plus any user-supplied strategic-merge patches.
type ManifestBundle struct {
	Resources []string
	Patches   []config.Patch
}

// DefaultBundle builds the add-on bundle from the pinned versions in the
// cluster configuration.
func DefaultBundle(cfg *config.Config) ManifestBundle {
	a := cfg.Addons
	return ManifestBundle{
		Resources: []string{
			fmt.Sprintf("https://github.com/hetznercloud/hcloud-cloud-controller-manager/releases/download/%s/ccm-networks.yaml", a.CCMVersion),
			fmt.Sprintf("https://raw.githubusercontent.com/hetznercloud/csi-driver/%s/deploy/kubernetes/hcloud-csi.yml", a.CSIVersion),
			fmt.Sprintf("https://github.com/kubereboot/kured/releases/download/%s/kured-%s-dockerhub.yaml", a.KuredVersion, a.KuredVersion),
			fmt.Sprintf("https://raw.githubusercontent.com/kubernetes/ingress-nginx/controller-%s/deploy/static/provider/cloud/deploy.yaml", a.IngressNginxVersion),
		},
		Patches: a.Patches,
	}
}

// kustomization is the manifest-merging tool's entry document.
type kustomization struct {
	APIVersion            string   `yaml:"apiVersion"`
	Kind                  string   `yaml:"kind"`
	Resources             []string `yaml:"resources"`
	PatchesStrategicMerge []string `yaml:"patchesStrategicMerge,omitempty"`
}

// Files renders the bundle as a file set: the kustomization plus one file
// per patch. Every rendered document has its block scalar markers
// normalized, because the downstream merge tool cannot parse
// width-annotated literal indicators.
func (b ManifestBundle) Files() (map[string][]byte, error) {
	k := kustomization{
		APIVersion: "kustomize.config.k8s.io/v1beta1",
		Kind:       "Kustomization",
		Resources:  b.Resources,
	}

	files := make(map[string][]byte, len(b.Patches)+1)
	for _, p := range b.Patches {
		if p.Name == "" {
			return nil, fmt.Errorf("patch without a name")
		}
		name := fmt.Sprintf("patch-%s.yaml", p.Name)
		if _, dup := files[name]; dup {
			return nil, fmt.Errorf("duplicate patch name %q", p.Name)
		}
		files[name] = NormalizeBlockScalars([]byte(p.Content))
		k.PatchesStrategicMerge = append(k.PatchesStrategicMerge, name)
	}
	sort.Strings(k.PatchesStrategicMerge)

	out, err := yaml.Marshal(k)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal kustomization: %w", err)
	}
	files[KustomizationFile] = NormalizeBlockScalars(out)

	return files, nil
}

// FileNames returns the bundle's file names in a stable order, the
// kustomization first.
func FileNames(files map[string][]byte) []string {
	names := make([]string, 0, len(files))
	for name := range files {
		if name == KustomizationFile {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)
	return append([]string{KustomizationFile}, names...)
}
