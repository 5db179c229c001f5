// pkg/launch/launch.go - starting the portable application and checking for
// processes that would block removal.

package launch

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/shirou/gopsutil/v3/process"

	"github.com/windowsadmins/vboxportable/pkg/command"
	"github.com/windowsadmins/vboxportable/pkg/logging"
)

const mainExecutable = "VirtualBox.exe"

// vboxProcessNames are the application processes whose presence means the
// install tree and its COM registrations are in use.
var vboxProcessNames = []string{
	"VirtualBox.exe",
	"VirtualBoxVM.exe",
	"VBoxSVC.exe",
	"VBoxSDS.exe",
	"VBoxManage.exe",
	"VBoxHeadless.exe",
}

// Run starts the application from the install tree and blocks until it
// exits.
func Run(installRoot string) error {
	exe := filepath.Join(installRoot, mainExecutable)
	if _, err := os.Stat(exe); err != nil {
		return &command.PreconditionError{Path: exe}
	}

	logging.Info("Launching application", "executable", exe)
	cmd := exec.Command(exe)
	cmd.Dir = installRoot
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start %s: %w", exe, err)
	}
	if err := cmd.Wait(); err != nil {
		return fmt.Errorf("%s exited with error: %w", mainExecutable, err)
	}
	logging.Info("Application exited")
	return nil
}

// RunningProcesses returns the names of application processes currently
// running. Used to warn before uninstall; the caller decides what to do.
func RunningProcesses() []string {
	procs, err := process.Processes()
	if err != nil {
		logging.Error("Failed to get process list", "error", err)
		return nil
	}

	var running []string
	for _, proc := range procs {
		name, err := proc.Name()
		if err != nil {
			continue
		}
		for _, candidate := range vboxProcessNames {
			if strings.EqualFold(name, candidate) {
				running = append(running, name)
				break
			}
		}
	}
	return running
}
