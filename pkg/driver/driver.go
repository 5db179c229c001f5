// pkg/driver/driver.go - device driver installation via devcon.exe.

package driver

import (
	"fmt"
	"os"
	"strings"

	"github.com/windowsadmins/vboxportable/pkg/command"
	"github.com/windowsadmins/vboxportable/pkg/logging"
)

// DriverError reports a driver control invocation that exited non-zero.
type DriverError struct {
	Op         string
	HardwareID string
	ExitCode   int
	Output     string
}

func (e *DriverError) Error() string {
	return fmt.Sprintf("driver %s for %s failed with exit code %d: %s",
		e.Op, e.HardwareID, e.ExitCode, strings.TrimSpace(e.Output))
}

// Installer wraps the driver control utility.
type Installer struct {
	runner command.Runner
}

// NewInstaller returns an Installer that shells out through r.
func NewInstaller(r command.Runner) *Installer {
	return &Installer{runner: r}
}

// Install installs the driver package described by infPath and binds it to
// devices matching hardwareID. Both the utility and the .inf must exist
// before anything is spawned.
func (i *Installer) Install(toolPath, infPath, hardwareID string) error {
	for _, p := range []string{toolPath, infPath} {
		if _, err := os.Stat(p); err != nil {
			return &command.PreconditionError{Path: p}
		}
	}

	res := i.runner.Run(toolPath, "install", infPath, hardwareID)
	if res.ExitCode != 0 {
		return &DriverError{Op: "install", HardwareID: hardwareID, ExitCode: res.ExitCode, Output: output(res)}
	}
	logging.Info("Installed driver", "inf", infPath, "hardware_id", hardwareID)
	return nil
}

// Uninstall removes the driver bound to devices matching hardwareID.
func (i *Installer) Uninstall(toolPath, hardwareID string) error {
	if _, err := os.Stat(toolPath); err != nil {
		return &command.PreconditionError{Path: toolPath}
	}

	res := i.runner.Run(toolPath, "remove", hardwareID)
	if res.ExitCode != 0 {
		return &DriverError{Op: "remove", HardwareID: hardwareID, ExitCode: res.ExitCode, Output: output(res)}
	}
	logging.Info("Removed driver", "hardware_id", hardwareID)
	return nil
}

func output(res command.Result) string {
	if strings.TrimSpace(res.Stderr) != "" {
		return res.Stderr
	}
	return res.Stdout
}
