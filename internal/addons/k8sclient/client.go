// Package k8sclient wraps the Kubernetes API operations the bootstrap needs
// once the cluster is initiated: seeding secrets and observing node
// readiness.
package k8sclient

import (
	"context"
	"fmt"

	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/tools/clientcmd"
)

// Client provides the cluster operations used during bootstrap.
type Client interface {
	// ApplySecret creates the secret if absent, leaves it alone if its
	// data already matches, and updates it otherwise. Safe to call again
	// on a rerun over a partially bootstrapped cluster.
	ApplySecret(ctx context.Context, secret *corev1.Secret) error

	// NodeReady reports whether the named node has the Ready condition.
	// An unknown node reports false without error; it may simply not
	// have registered yet.
	NodeReady(ctx context.Context, name string) (bool, error)
}

// Factory builds a Client from admin kubeconfig bytes.
type Factory func(kubeconfig []byte) (Client, error)

type client struct {
	clientset kubernetes.Interface
}

// NewFromKubeconfig creates a Client directly from kubeconfig bytes, so the
// credentials fetched from the initiator never touch a temporary file.
func NewFromKubeconfig(kubeconfig []byte) (Client, error) {
	restConfig, err := clientcmd.RESTConfigFromKubeConfig(kubeconfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create REST config from kubeconfig: %w", err)
	}

	clientset, err := kubernetes.NewForConfig(restConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create kubernetes clientset: %w", err)
	}

	return &client{clientset: clientset}, nil
}

// NewFromClientset creates a Client from a pre-configured clientset.
// Used in tests with the fake clientset.
func NewFromClientset(clientset kubernetes.Interface) Client {
	return &client{clientset: clientset}
}

// NodeReady reports the kubelet Ready condition for a node.
func (c *client) NodeReady(ctx context.Context, name string) (bool, error) {
	node, err := c.clientset.CoreV1().Nodes().Get(ctx, name, metav1.GetOptions{})
	if err != nil {
		return false, nil
	}

	for _, cond := range node.Status.Conditions {
		if cond.Type == corev1.NodeReady {
			return cond.Status == corev1.ConditionTrue, nil
		}
	}
	return false, nil
}
