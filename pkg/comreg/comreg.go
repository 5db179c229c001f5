// pkg/comreg/comreg.go - COM component registration via regsvr32.exe.

package comreg

import (
	"fmt"
	"os"
	"strings"

	"github.com/windowsadmins/vboxportable/pkg/command"
	"github.com/windowsadmins/vboxportable/pkg/logging"
)

const regsvrTool = "regsvr32.exe"

// RegistrationError reports a regsvr32 invocation that exited non-zero for a
// library that does exist on disk.
type RegistrationError struct {
	Op       string
	DLL      string
	ExitCode int
	Output   string
}

func (e *RegistrationError) Error() string {
	return fmt.Sprintf("component %s of %s failed with exit code %d: %s",
		e.Op, e.DLL, e.ExitCode, strings.TrimSpace(e.Output))
}

// Registrar wraps the COM registration utility.
type Registrar struct {
	runner command.Runner
}

// NewRegistrar returns a Registrar that shells out through r.
func NewRegistrar(r command.Runner) *Registrar {
	return &Registrar{runner: r}
}

// Register registers dllPath as a COM component. A missing library is a soft
// condition: it returns (false, nil) with a warning and spawns nothing. A
// present library whose registration fails is a hard error.
func (r *Registrar) Register(dllPath string) (bool, error) {
	if _, err := os.Stat(dllPath); err != nil {
		logging.Warn("Component library not found, skipping registration", "dll", dllPath)
		return false, nil
	}

	res := r.runner.Run(regsvrTool, "/s", dllPath)
	if res.ExitCode != 0 {
		return false, &RegistrationError{Op: "register", DLL: dllPath, ExitCode: res.ExitCode, Output: output(res)}
	}
	logging.Info("Registered component", "dll", dllPath)
	return true, nil
}

// Unregister removes the COM registration of dllPath. Same contract as
// Register: missing library is (false, nil), failed unregistration is an
// error.
func (r *Registrar) Unregister(dllPath string) (bool, error) {
	if _, err := os.Stat(dllPath); err != nil {
		logging.Warn("Component library not found, skipping unregistration", "dll", dllPath)
		return false, nil
	}

	res := r.runner.Run(regsvrTool, "/u", "/s", dllPath)
	if res.ExitCode != 0 {
		return false, &RegistrationError{Op: "unregister", DLL: dllPath, ExitCode: res.ExitCode, Output: output(res)}
	}
	logging.Info("Unregistered component", "dll", dllPath)
	return true, nil
}

func output(res command.Result) string {
	if strings.TrimSpace(res.Stderr) != "" {
		return res.Stderr
	}
	return res.Stdout
}
