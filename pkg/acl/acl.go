// pkg/acl/acl.go - filesystem ownership adjustment for the install tree.

package acl

import (
	"fmt"
	"strings"

	"github.com/windowsadmins/vboxportable/pkg/command"
	"github.com/windowsadmins/vboxportable/pkg/logging"
)

const (
	trustedInstaller = `NT SERVICE\TrustedInstaller`
	everyone         = "Everyone"
)

// OwnershipError reports a takeown/icacls invocation that exited non-zero.
type OwnershipError struct {
	Op       string
	Path     string
	ExitCode int
	Output   string
}

func (e *OwnershipError) Error() string {
	return fmt.Sprintf("ownership %s of %s failed with exit code %d: %s",
		e.Op, e.Path, e.ExitCode, strings.TrimSpace(e.Output))
}

// Adjuster brackets install/uninstall with ownership changes on the install
// tree.
type Adjuster struct {
	runner command.Runner
}

// NewAdjuster returns an Adjuster that shells out through r.
func NewAdjuster(r command.Runner) *Adjuster {
	return &Adjuster{runner: r}
}

// Lock hands ownership of the tree to TrustedInstaller so the registered
// binaries cannot be casually replaced while the drivers reference them.
func (a *Adjuster) Lock(root string) error {
	res := a.runner.Run("icacls.exe", root, "/setowner", trustedInstaller, "/t", "/c", "/q")
	if res.ExitCode != 0 {
		return &OwnershipError{Op: "lock", Path: root, ExitCode: res.ExitCode, Output: output(res)}
	}
	logging.Info("Locked install tree ownership", "path", root, "owner", trustedInstaller)
	return nil
}

// Unlock takes the tree back from TrustedInstaller and hands it to Everyone
// so the portable directory can be moved or deleted freely.
func (a *Adjuster) Unlock(root string) error {
	res := a.runner.Run("takeown.exe", "/f", root, "/r", "/d", "y")
	if res.ExitCode != 0 {
		return &OwnershipError{Op: "takeown", Path: root, ExitCode: res.ExitCode, Output: output(res)}
	}

	res = a.runner.Run("icacls.exe", root, "/setowner", everyone, "/t", "/c", "/q")
	if res.ExitCode != 0 {
		return &OwnershipError{Op: "unlock", Path: root, ExitCode: res.ExitCode, Output: output(res)}
	}
	logging.Info("Reset install tree ownership", "path", root, "owner", everyone)
	return nil
}

func output(res command.Result) string {
	if strings.TrimSpace(res.Stderr) != "" {
		return res.Stderr
	}
	return res.Stdout
}
