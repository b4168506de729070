package k8sclient

import (
	"bytes"
	"context"
	"fmt"

	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
)

// SecretConflictError reports a secret that exists with differing content
// and could not be brought in line.
type SecretConflictError struct {
	Namespace string
	Name      string
	Err       error
}

func (e *SecretConflictError) Error() string {
	return fmt.Sprintf("secret %s/%s exists with differing content: %v", e.Namespace, e.Name, e.Err)
}

func (e *SecretConflictError) Unwrap() error {
	return e.Err
}

// ApplySecret upserts a secret. Naive creation fails when a prior partial
// run already seeded it, so the flow is check, then create or update:
// absent secrets are created, matching secrets are left untouched, and
// differing secrets are overwritten with the desired data.
func (c *client) ApplySecret(ctx context.Context, secret *corev1.Secret) error {
	if secret.Namespace == "" {
		return fmt.Errorf("secret namespace is required")
	}
	if secret.Name == "" {
		return fmt.Errorf("secret name is required")
	}

	secrets := c.clientset.CoreV1().Secrets(secret.Namespace)

	existing, err := secrets.Get(ctx, secret.Name, metav1.GetOptions{})
	if err != nil {
		if !errors.IsNotFound(err) {
			return fmt.Errorf("failed to check for secret %s/%s: %w", secret.Namespace, secret.Name, err)
		}
		if _, err := secrets.Create(ctx, secret, metav1.CreateOptions{}); err != nil {
			return fmt.Errorf("failed to create secret %s/%s: %w", secret.Namespace, secret.Name, err)
		}
		return nil
	}

	if secretDataMatches(existing, secret) {
		return nil
	}

	updated := existing.DeepCopy()
	updated.Data = nil
	updated.StringData = secret.StringData
	updated.Type = secret.Type
	if _, err := secrets.Update(ctx, updated, metav1.UpdateOptions{}); err != nil {
		return &SecretConflictError{Namespace: secret.Namespace, Name: secret.Name, Err: err}
	}

	return nil
}

// secretDataMatches compares the stored data of an existing secret with the
// desired StringData. The API server folds StringData into Data on write,
// but both fields are checked so the comparison also holds against objects
// that never round-tripped through the server.
func secretDataMatches(existing, desired *corev1.Secret) bool {
	keys := make(map[string]bool, len(existing.Data)+len(existing.StringData))
	for key := range existing.Data {
		keys[key] = true
	}
	for key := range existing.StringData {
		keys[key] = true
	}
	if len(keys) != len(desired.StringData) {
		return false
	}

	for key, want := range desired.StringData {
		if got, ok := existing.Data[key]; ok {
			if !bytes.Equal(got, []byte(want)) {
				return false
			}
			continue
		}
		if got, ok := existing.StringData[key]; ok {
			if got != want {
				return false
			}
			continue
		}
		return false
	}
	return true
}
