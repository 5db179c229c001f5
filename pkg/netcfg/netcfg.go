// pkg/netcfg/netcfg.go - network component configuration via snetcfg.exe.

package netcfg

import (
	"fmt"
	"os"
	"strings"

	"github.com/windowsadmins/vboxportable/pkg/command"
	"github.com/windowsadmins/vboxportable/pkg/logging"
)

// NetworkConfigError reports a network configuration invocation that exited
// non-zero.
type NetworkConfigError struct {
	Op          string
	ComponentID string
	ExitCode    int
	Output      string
}

func (e *NetworkConfigError) Error() string {
	return fmt.Sprintf("network config %s for %s failed with exit code %d: %s",
		e.Op, e.ComponentID, e.ExitCode, strings.TrimSpace(e.Output))
}

// Configurer wraps the network component configuration utility.
type Configurer struct {
	runner command.Runner
}

// NewConfigurer returns a Configurer that shells out through r.
func NewConfigurer(r command.Runner) *Configurer {
	return &Configurer{runner: r}
}

// Install installs the network filter component described by infPath under
// componentID. Both the utility and the .inf must exist before anything is
// spawned.
func (c *Configurer) Install(toolPath, infPath, componentID string) error {
	for _, p := range []string{toolPath, infPath} {
		if _, err := os.Stat(p); err != nil {
			return &command.PreconditionError{Path: p}
		}
	}

	res := c.runner.Run(toolPath, "-l", infPath, "-c", "s", "-i", componentID)
	if res.ExitCode != 0 {
		return &NetworkConfigError{Op: "install", ComponentID: componentID, ExitCode: res.ExitCode, Output: output(res)}
	}
	logging.Info("Installed network component", "component_id", componentID, "inf", infPath)
	return nil
}

// Uninstall removes the network filter binding for componentID.
func (c *Configurer) Uninstall(toolPath, componentID string) error {
	if _, err := os.Stat(toolPath); err != nil {
		return &command.PreconditionError{Path: toolPath}
	}

	res := c.runner.Run(toolPath, "-u", componentID)
	if res.ExitCode != 0 {
		return &NetworkConfigError{Op: "uninstall", ComponentID: componentID, ExitCode: res.ExitCode, Output: output(res)}
	}
	logging.Info("Uninstalled network component", "component_id", componentID)
	return nil
}

func output(res command.Result) string {
	if strings.TrimSpace(res.Stderr) != "" {
		return res.Stderr
	}
	return res.Stdout
}
