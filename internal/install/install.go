// Package install puts a base OS onto a raw node booted into rescue mode
// and hands reboot control to the orchestrator.
package install

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/k3boot/k3boot/internal/sshexec"
)

// Autosetup is the unattended install profile consumed by the rescue
// system's installer. Hostname is substituted per node.
const Autosetup = `DRIVE1 /dev/sda
BOOTLOADER grub
HOSTNAME %s
PART / ext4 all
IMAGE /root/images/Ubuntu-2404-noble-amd64-base.tar.gz
`

// autosetupPath is where the rescue installer expects its profile.
const autosetupPath = "/autosetup"

// disableTimersCmd turns off the OS's autonomous update and reboot timers.
// Reboot timing belongs to the orchestrator (and later to the in-cluster
// reboot daemon), not to the base image.
const disableTimersCmd = "systemctl disable --now apt-daily.timer apt-daily-upgrade.timer unattended-upgrades.service 2>/dev/null; true"

// Installer drives the OS installation on one node.
type Installer struct {
	comm sshexec.Communicator
}

// New creates an Installer that talks to the node through comm.
func New(comm sshexec.Communicator) *Installer {
	return &Installer{comm: comm}
}

// Install writes the autosetup profile, runs the image installer, disables
// the autonomous update timers in the installed system, and requests a
// reboot. The node becoming unreachable afterwards is expected.
//
// A non-zero installer exit is fatal for this node; the caller must not
// continue to later phases.
func (i *Installer) Install(ctx context.Context, hostname string) error {
	profile := fmt.Sprintf(Autosetup, hostname)
	if err := i.comm.UploadFile(ctx, []byte(profile), autosetupPath); err != nil {
		return fmt.Errorf("failed to write autosetup profile: %w", err)
	}

	log.Printf("[%s] Running image installation...", hostname)
	output, err := i.comm.Execute(ctx, "/root/.oldroot/nfs/install/installimage -a -c "+autosetupPath)
	if err != nil {
		var exitErr *sshexec.ExitError
		if errors.As(err, &exitErr) {
			return fmt.Errorf("image installation failed (exit %d): %s", exitErr.ExitCode, tail(exitErr.Output))
		}
		return fmt.Errorf("image installation failed: %w", err)
	}
	_ = output

	// The timers live in the freshly installed system; chroot into it
	// before the reboot leaves the rescue environment.
	if _, err := i.comm.Execute(ctx, "chroot /mnt sh -c '"+disableTimersCmd+"'"); err != nil {
		return fmt.Errorf("failed to disable update timers: %w", err)
	}

	log.Printf("[%s] Installation complete, rebooting", hostname)
	// The connection drops mid-command when the node goes down; only a
	// clean non-zero exit means the reboot request itself failed.
	if _, err := i.comm.Execute(ctx, "nohup reboot >/dev/null 2>&1 & exit 0"); err != nil {
		var exitErr *sshexec.ExitError
		if errors.As(err, &exitErr) {
			return fmt.Errorf("failed to request reboot: %w", err)
		}
	}

	return nil
}

// tail keeps error messages readable when the installer dumps pages of
// output before failing.
func tail(s string) string {
	const maxLines = 10
	lines := strings.Split(strings.TrimSpace(s), "\n")
	if len(lines) > maxLines {
		lines = lines[len(lines)-maxLines:]
	}
	return strings.Join(lines, "\n")
}
