package install

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/k3boot/k3boot/internal/sshexec"
)

// fakeComm records remote operations and returns scripted responses.
type fakeComm struct {
	commands []string
	uploads  map[string][]byte
	execErr  map[string]error // substring match -> error
}

func newFakeComm() *fakeComm {
	return &fakeComm{uploads: map[string][]byte{}, execErr: map[string]error{}}
}

func (f *fakeComm) Execute(_ context.Context, command string) (string, error) {
	f.commands = append(f.commands, command)
	for substr, err := range f.execErr {
		if strings.Contains(command, substr) {
			return "", err
		}
	}
	return "", nil
}

func (f *fakeComm) UploadFile(_ context.Context, content []byte, remotePath string) error {
	f.uploads[remotePath] = content
	return nil
}

func TestInstall_HappyPath(t *testing.T) {
	comm := newFakeComm()
	installer := New(comm)

	require.NoError(t, installer.Install(context.Background(), "cp-1"))

	// Profile written with the node's hostname.
	profile := string(comm.uploads["/autosetup"])
	assert.Contains(t, profile, "HOSTNAME cp-1")

	// Install, timer disable, and reboot in order.
	require.Len(t, comm.commands, 3)
	assert.Contains(t, comm.commands[0], "installimage")
	assert.Contains(t, comm.commands[1], "systemctl disable")
	assert.Contains(t, comm.commands[2], "reboot")
}

func TestInstall_InstallerExitCodeIsFatal(t *testing.T) {
	comm := newFakeComm()
	comm.execErr["installimage"] = &sshexec.ExitError{Command: "installimage", ExitCode: 1, Output: "disk error"}
	installer := New(comm)

	err := installer.Install(context.Background(), "cp-1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exit 1")
	assert.Contains(t, err.Error(), "disk error")

	// No reboot requested after a failed install.
	for _, cmd := range comm.commands {
		assert.NotContains(t, cmd, "reboot")
	}
}

func TestInstall_ConnectionDropDuringRebootIsNotAnError(t *testing.T) {
	comm := newFakeComm()
	comm.execErr["reboot"] = context.DeadlineExceeded // connection drop, not an exit code
	installer := New(comm)

	require.NoError(t, installer.Install(context.Background(), "cp-1"))
}

func TestInstall_RebootExitCodeIsAnError(t *testing.T) {
	comm := newFakeComm()
	comm.execErr["reboot"] = &sshexec.ExitError{Command: "reboot", ExitCode: 1}
	installer := New(comm)

	err := installer.Install(context.Background(), "cp-1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "reboot")
}

func TestTail(t *testing.T) {
	long := strings.Repeat("line\n", 50) + "final"
	got := tail(long)
	assert.Equal(t, 10, len(strings.Split(got, "\n")))
	assert.Contains(t, got, "final")

	assert.Equal(t, "short", tail("short\n"))
}
