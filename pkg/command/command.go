// pkg/command/command.go - synchronous external process execution.
//
// Every privileged system change this tool makes goes through an external
// utility (sc.exe, devcon.exe, snetcfg.exe, regsvr32.exe, icacls.exe, the
// VirtualBox binaries). Run captures both output streams fully and reports
// the exit code; classification of success is left to the callers.

package command

import (
	"bytes"
	"fmt"
	"os/exec"
	"runtime"
	"strings"
	"syscall"

	"github.com/windowsadmins/vboxportable/pkg/logging"
)

// Result captures everything an external tool reported back.
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// Runner executes an external program and blocks until it exits.
// There is no timeout: a hung tool blocks the caller.
type Runner interface {
	Run(name string, args ...string) Result
}

// WindowsRunner runs commands through os/exec with the console window hidden.
type WindowsRunner struct{}

// NewRunner returns a Runner backed by os/exec.
func NewRunner() *WindowsRunner {
	return &WindowsRunner{}
}

// Run invokes name with args, waits for it to exit, and returns the captured
// streams and exit code. A process that could not be started at all is
// reported as exit code -1 with the spawn error in Stderr.
func (r *WindowsRunner) Run(name string, args ...string) Result {
	cmd := exec.Command(name, args...)
	hideConsoleWindow(cmd)

	var out bytes.Buffer
	var stderr bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &stderr

	logging.Debug("Running command", "command", name, "args", strings.Join(args, " "))

	err := cmd.Run()
	result := Result{
		Stdout: out.String(),
		Stderr: stderr.String(),
	}

	switch {
	case err == nil:
		result.ExitCode = 0
	case cmd.ProcessState != nil:
		result.ExitCode = cmd.ProcessState.ExitCode()
	default:
		// The process never started (missing binary, access denied).
		result.ExitCode = -1
		if result.Stderr == "" {
			result.Stderr = err.Error()
		}
	}

	logging.Debug("Command finished", "command", name, "exit_code", result.ExitCode)
	return result
}

func hideConsoleWindow(cmd *exec.Cmd) {
	if runtime.GOOS == "windows" {
		cmd.SysProcAttr = &syscall.SysProcAttr{
			HideWindow: true,
		}
	}
}

// PreconditionError reports a required input path that was missing before
// any external process was spawned. It is distinct from a tool failure:
// nothing has been executed when it is returned.
type PreconditionError struct {
	Path string
}

func (e *PreconditionError) Error() string {
	return fmt.Sprintf("required path does not exist: %s", e.Path)
}
