package config

import (
	"os"
	"strconv"
	"time"
)

// Timeouts holds the configurable timeout and polling values for a run.
// Each value can be overridden via an environment variable.
type Timeouts struct {
	Reboot       time.Duration // Waiting for a node to come back after reboot
	Init         time.Duration // Waiting for the initiator's API to answer the readiness endpoint
	Join         time.Duration // Waiting for a joiner's control plane process to become ready
	NodeReady    time.Duration // Waiting for the kubelet Ready condition
	AddonApply   time.Duration // Applying the add-on bundle
	PollInterval time.Duration // Interval between readiness probes
	SSHDial      time.Duration // Single SSH connection attempt

	RetryMaxAttempts  int           // Attempts for transient remote failures
	RetryInitialDelay time.Duration // Initial delay between retry attempts
}

// LoadTimeouts loads timeout configuration from environment variables,
// falling back to defaults when unset or unparsable.
//
// Environment Variables:
//   - K3BOOT_TIMEOUT_REBOOT (default: 10m)
//   - K3BOOT_TIMEOUT_INIT (default: 8m)
//   - K3BOOT_TIMEOUT_JOIN (default: 8m)
//   - K3BOOT_TIMEOUT_NODE_READY (default: 5m)
//   - K3BOOT_TIMEOUT_ADDON_APPLY (default: 5m)
//   - K3BOOT_POLL_INTERVAL (default: 5s)
//   - K3BOOT_TIMEOUT_SSH_DIAL (default: 10s)
//   - K3BOOT_RETRY_MAX_ATTEMPTS (default: 5)
//   - K3BOOT_RETRY_INITIAL_DELAY (default: 1s)
func LoadTimeouts() *Timeouts {
	return &Timeouts{
		Reboot:            parseDuration("K3BOOT_TIMEOUT_REBOOT", 10*time.Minute),
		Init:              parseDuration("K3BOOT_TIMEOUT_INIT", 8*time.Minute),
		Join:              parseDuration("K3BOOT_TIMEOUT_JOIN", 8*time.Minute),
		NodeReady:         parseDuration("K3BOOT_TIMEOUT_NODE_READY", 5*time.Minute),
		AddonApply:        parseDuration("K3BOOT_TIMEOUT_ADDON_APPLY", 5*time.Minute),
		PollInterval:      parseDuration("K3BOOT_POLL_INTERVAL", 5*time.Second),
		SSHDial:           parseDuration("K3BOOT_TIMEOUT_SSH_DIAL", 10*time.Second),
		RetryMaxAttempts:  parseInt("K3BOOT_RETRY_MAX_ATTEMPTS", 5),
		RetryInitialDelay: parseDuration("K3BOOT_RETRY_INITIAL_DELAY", 1*time.Second),
	}
}

func parseDuration(envVar string, defaultVal time.Duration) time.Duration {
	val := os.Getenv(envVar)
	if val == "" {
		return defaultVal
	}

	d, err := time.ParseDuration(val)
	if err != nil {
		return defaultVal
	}

	return d
}

func parseInt(envVar string, defaultVal int) int {
	val := os.Getenv(envVar)
	if val == "" {
		return defaultVal
	}

	n, err := strconv.Atoi(val)
	if err != nil {
		return defaultVal
	}

	return n
}
