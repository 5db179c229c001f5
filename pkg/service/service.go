// pkg/service/service.go - Windows service control via sc.exe.

package service

import (
	"fmt"
	"strings"

	"github.com/windowsadmins/vboxportable/pkg/command"
	"github.com/windowsadmins/vboxportable/pkg/logging"
)

const scTool = "sc.exe"

// Type is the service type passed to sc.exe create.
type Type string

const (
	// TypeKernel is a kernel-mode driver service.
	TypeKernel Type = "kernel"
	// TypeOwn is a service running in its own process.
	TypeOwn Type = "own"
)

// StartMode is the service start mode passed to sc.exe create.
type StartMode string

const (
	StartSystem StartMode = "system"
	StartAuto   StartMode = "auto"
	StartDemand StartMode = "demand"
)

// ServiceError reports a service control operation whose underlying sc.exe
// invocation exited non-zero.
type ServiceError struct {
	Op       string
	Service  string
	ExitCode int
	Output   string
}

func (e *ServiceError) Error() string {
	return fmt.Sprintf("service %s %s failed with exit code %d: %s",
		e.Op, e.Service, e.ExitCode, strings.TrimSpace(e.Output))
}

// Manager wraps the service control utility.
type Manager struct {
	runner command.Runner
}

// NewManager returns a Manager that shells out through r.
func NewManager(r command.Runner) *Manager {
	return &Manager{runner: r}
}

// Exists reports whether a service record with the given name is present.
// Any non-zero query exit is reported as absent: sc.exe gives no reliable
// way to tell "not found" apart from a failed query, so neither do we.
func (m *Manager) Exists(name string) bool {
	res := m.runner.Run(scTool, "query", name)
	return res.ExitCode == 0
}

// IsRunning reports whether the named service is in the RUNNING state.
func (m *Manager) IsRunning(name string) bool {
	res := m.runner.Run(scTool, "query", name)
	if res.ExitCode != 0 {
		return false
	}
	return strings.Contains(res.Stdout, "RUNNING")
}

// Create registers a new service record.
func (m *Manager) Create(name, binaryPath string, svcType Type, start StartMode, displayName string) error {
	res := m.runner.Run(scTool, "create", name,
		"binPath=", binaryPath,
		"type=", string(svcType),
		"start=", string(start),
		"DisplayName=", displayName)
	if res.ExitCode != 0 {
		return &ServiceError{Op: "create", Service: name, ExitCode: res.ExitCode, Output: output(res)}
	}
	logging.Info("Created service", "service", name, "binary", binaryPath)
	return nil
}

// Start starts the named service.
func (m *Manager) Start(name string) error {
	res := m.runner.Run(scTool, "start", name)
	if res.ExitCode != 0 {
		return &ServiceError{Op: "start", Service: name, ExitCode: res.ExitCode, Output: output(res)}
	}
	logging.Info("Started service", "service", name)
	return nil
}

// Stop stops the named service.
func (m *Manager) Stop(name string) error {
	res := m.runner.Run(scTool, "stop", name)
	if res.ExitCode != 0 {
		return &ServiceError{Op: "stop", Service: name, ExitCode: res.ExitCode, Output: output(res)}
	}
	logging.Info("Stopped service", "service", name)
	return nil
}

// Delete removes the service record.
func (m *Manager) Delete(name string) error {
	res := m.runner.Run(scTool, "delete", name)
	if res.ExitCode != 0 {
		return &ServiceError{Op: "delete", Service: name, ExitCode: res.ExitCode, Output: output(res)}
	}
	logging.Info("Deleted service", "service", name)
	return nil
}

func output(res command.Result) string {
	if strings.TrimSpace(res.Stderr) != "" {
		return res.Stderr
	}
	return res.Stdout
}
