// pkg/lifecycle/lifecycle.go - orchestration of the portable install footprint.
//
// Install drives the host from "VirtualBox not registered" to "fully
// registered and launchable" given the root of an extracted portable tree;
// Uninstall walks the exact reverse of the dependency order. Every step is
// best-effort: a failed step is recorded and logged, and the sequence
// continues, because rerunning either direction is the repair path for a
// partially broken footprint. The only hard failure is a missing install
// root, checked before any step runs.

package lifecycle

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/windowsadmins/vboxportable/pkg/acl"
	"github.com/windowsadmins/vboxportable/pkg/command"
	"github.com/windowsadmins/vboxportable/pkg/comreg"
	"github.com/windowsadmins/vboxportable/pkg/driver"
	"github.com/windowsadmins/vboxportable/pkg/logging"
	"github.com/windowsadmins/vboxportable/pkg/netcfg"
	"github.com/windowsadmins/vboxportable/pkg/service"
)

// Service and component identifiers of the VirtualBox system footprint.
// These must match the names the drivers register under, or uninstall will
// orphan the records.
const (
	supService    = "VBoxSup"
	usbMonService = "VBoxUSBMon"
	usbService    = "VBoxUSB"
	netLwfService = "VBoxNetLwf"
	netAdpService = "VBoxNetAdp6"

	netLwfComponentID = "oracle_VBoxNetLwf"
	netAdpHardwareID  = "sun_VBoxNetAdp"
	usbHardwareID     = `USB\VID_80EE&PID_CAFE`
)

// Fixed sub-paths of the portable install tree. These mirror the layout of
// the extracted VirtualBox install image.
const (
	supDriverPath = `drivers\vboxsup\VBoxSup.sys`
	netLwfInfPath = `drivers\network\netlwf\VBoxNetLwf.inf`
	netAdpInfPath = `drivers\network\netadp6\VBoxNetAdp6.inf`
	usbMonPath    = `drivers\USB\filter\VBoxUSBMon.sys`
	usbInfPath    = `drivers\USB\device\VBoxUSB.inf`

	proxyStub64 = `VBoxProxyStub.dll`
	proxyStub32 = `x86\VBoxProxyStub-x86.dll`
	client64    = `VBoxC.dll`
	client32    = `x86\VBoxClient-x86.dll`

	manageExe = "VBoxManage.exe"
	sdsExe    = "VBoxSDS.exe"
)

// Utilities expected in the tools folder.
const (
	devconExe  = "devcon.exe"
	snetcfgExe = "snetcfg.exe"
)

// Outcome classifies how a single step ended.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeWarning Outcome = "warning"
	OutcomeFailed  Outcome = "failed"
)

// StepResult records one orchestration step and how it went. Install and
// Uninstall return the ordered list of these so callers can inspect partial
// failures without parsing logs.
type StepResult struct {
	Step    string
	Outcome Outcome
	Err     error
}

// Options configures the orchestrator. There is no ambient state: everything
// the sequences need beyond the install root comes in here.
type Options struct {
	Verbose     bool
	ToolsFolder string
	// MachineFolder overrides where the application keeps machine
	// definitions. Empty means the "Machines" sibling of the install root.
	MachineFolder string
}

// ServiceManager is the service control surface the orchestrator needs.
type ServiceManager interface {
	Exists(name string) bool
	IsRunning(name string) bool
	Create(name, binaryPath string, svcType service.Type, start service.StartMode, displayName string) error
	Start(name string) error
	Stop(name string) error
	Delete(name string) error
}

// DriverInstaller is the driver control surface.
type DriverInstaller interface {
	Install(toolPath, infPath, hardwareID string) error
	Uninstall(toolPath, hardwareID string) error
}

// NetworkConfigurer is the network component configuration surface.
type NetworkConfigurer interface {
	Install(toolPath, infPath, componentID string) error
	Uninstall(toolPath, componentID string) error
}

// ComRegistrar is the COM registration surface.
type ComRegistrar interface {
	Register(dllPath string) (bool, error)
	Unregister(dllPath string) (bool, error)
}

// OwnershipAdjuster brackets the sequences with ownership changes.
type OwnershipAdjuster interface {
	Lock(root string) error
	Unlock(root string) error
}

// Orchestrator sequences the adapters. One external invocation runs at a
// time; ordering is the whole point.
type Orchestrator struct {
	services ServiceManager
	drivers  DriverInstaller
	network  NetworkConfigurer
	com      ComRegistrar
	owner    OwnershipAdjuster
	runner   command.Runner
	opts     Options
}

// New returns an Orchestrator wired to the real adapters.
func New(opts Options) *Orchestrator {
	r := command.NewRunner()
	return &Orchestrator{
		services: service.NewManager(r),
		drivers:  driver.NewInstaller(r),
		network:  netcfg.NewConfigurer(r),
		com:      comreg.NewRegistrar(r),
		owner:    acl.NewAdjuster(r),
		runner:   r,
		opts:     opts,
	}
}

type step struct {
	name string
	fn   func() (Outcome, error)
}

// Install registers the full system footprint for the portable tree rooted
// at installRoot. It returns the ordered per-step outcomes; the returned
// error is non-nil only when the install root itself is missing, in which
// case no step has run.
func (o *Orchestrator) Install(installRoot string) ([]StepResult, error) {
	if _, err := os.Stat(installRoot); err != nil {
		return nil, &command.PreconditionError{Path: installRoot}
	}

	devcon := filepath.Join(o.opts.ToolsFolder, devconExe)
	snetcfg := filepath.Join(o.opts.ToolsFolder, snetcfgExe)

	logging.Info("Installing VirtualBox system footprint", "install_root", installRoot)

	steps := []step{
		{"create support driver service", func() (Outcome, error) {
			return asOutcome(o.services.Create(supService,
				filepath.Join(installRoot, supDriverPath),
				service.TypeKernel, service.StartSystem, "VirtualBox Support Driver"))
		}},
		{"start support driver service", func() (Outcome, error) {
			return asOutcome(o.services.Start(supService))
		}},
		{"install network filter component", func() (Outcome, error) {
			return asOutcome(o.network.Install(snetcfg,
				filepath.Join(installRoot, netLwfInfPath), netLwfComponentID))
		}},
		{"check network filter service", func() (Outcome, error) {
			return o.checkService(netLwfService)
		}},
		{"install network adapter driver", func() (Outcome, error) {
			return asOutcome(o.drivers.Install(devcon,
				filepath.Join(installRoot, netAdpInfPath), netAdpHardwareID))
		}},
		{"check network adapter service", func() (Outcome, error) {
			return o.checkService(netAdpService)
		}},
		{"create usb monitor service", func() (Outcome, error) {
			return asOutcome(o.services.Create(usbMonService,
				filepath.Join(installRoot, usbMonPath),
				service.TypeKernel, service.StartSystem, "VirtualBox USB Monitor Driver"))
		}},
		{"start usb monitor service", func() (Outcome, error) {
			return asOutcome(o.services.Start(usbMonService))
		}},
		{"install usb device driver", func() (Outcome, error) {
			return asOutcome(o.drivers.Install(devcon,
				filepath.Join(installRoot, usbInfPath), usbHardwareID))
		}},
		{"register COM components", func() (Outcome, error) {
			return o.registerComponents(installRoot,
				proxyStub64, proxyStub32, client64, client32)
		}},
		{"set machine folder", func() (Outcome, error) {
			return asOutcome(o.setMachineFolder(installRoot))
		}},
		{"lock install tree ownership", func() (Outcome, error) {
			return asOutcome(o.owner.Lock(installRoot))
		}},
	}

	return o.runSteps(steps), nil
}

// Uninstall removes the system footprint in the reverse of the dependency
// order Install created it in: COM registrations first so no client holds
// the libraries, then the upper filters, then the support driver last.
// Same contract as Install.
func (o *Orchestrator) Uninstall(installRoot string) ([]StepResult, error) {
	if _, err := os.Stat(installRoot); err != nil {
		return nil, &command.PreconditionError{Path: installRoot}
	}

	devcon := filepath.Join(o.opts.ToolsFolder, devconExe)
	snetcfg := filepath.Join(o.opts.ToolsFolder, snetcfgExe)

	logging.Info("Removing VirtualBox system footprint", "install_root", installRoot)

	steps := []step{
		{"unregister client components", func() (Outcome, error) {
			return o.unregisterComponents(installRoot, client32, client64)
		}},
		{"deregister system directory service", func() (Outcome, error) {
			return asOutcome(o.deregisterSDS(installRoot))
		}},
		{"unregister proxy stub components", func() (Outcome, error) {
			return o.unregisterComponents(installRoot, proxyStub32, proxyStub64)
		}},
		{"remove usb device driver", func() (Outcome, error) {
			return asOutcome(o.drivers.Uninstall(devcon, usbHardwareID))
		}},
		{"delete usb device service", func() (Outcome, error) {
			return asOutcome(o.services.Delete(usbService))
		}},
		{"stop and delete usb monitor service", func() (Outcome, error) {
			return o.stopAndDelete(usbMonService)
		}},
		{"delete network adapter service", func() (Outcome, error) {
			return asOutcome(o.services.Delete(netAdpService))
		}},
		{"remove network adapter driver", func() (Outcome, error) {
			return asOutcome(o.drivers.Uninstall(devcon, netAdpHardwareID))
		}},
		{"delete network filter service", func() (Outcome, error) {
			return asOutcome(o.services.Delete(netLwfService))
		}},
		{"uninstall network filter component", func() (Outcome, error) {
			return asOutcome(o.network.Uninstall(snetcfg, netLwfComponentID))
		}},
		{"stop and delete support driver service", func() (Outcome, error) {
			return o.stopAndDelete(supService)
		}},
		{"reset install tree ownership", func() (Outcome, error) {
			return asOutcome(o.owner.Unlock(installRoot))
		}},
	}

	return o.runSteps(steps), nil
}

// runSteps executes every step in order regardless of earlier failures.
func (o *Orchestrator) runSteps(steps []step) []StepResult {
	results := make([]StepResult, 0, len(steps))
	for _, s := range steps {
		outcome, err := s.fn()
		switch outcome {
		case OutcomeFailed:
			logging.Error("Step failed", "step", s.name, "error", err)
		case OutcomeWarning:
			logging.Warn("Step completed with warnings", "step", s.name, "error", err)
		default:
			logging.Info("Step completed", "step", s.name)
		}
		results = append(results, StepResult{Step: s.name, Outcome: outcome, Err: err})
	}
	return results
}

func asOutcome(err error) (Outcome, error) {
	if err != nil {
		return OutcomeFailed, err
	}
	return OutcomeSuccess, nil
}

// checkService is a diagnostic probe: it never gates later steps, it only
// surfaces whether the expected service record appeared.
func (o *Orchestrator) checkService(name string) (Outcome, error) {
	if !o.services.Exists(name) {
		return OutcomeWarning, fmt.Errorf("service %s not found after installation", name)
	}
	if o.opts.Verbose {
		logging.Debug("Service present", "service", name, "running", o.services.IsRunning(name))
	}
	return OutcomeSuccess, nil
}

// registerComponents registers each library in order, continuing past
// individual failures. A missing library downgrades the step to a warning;
// a failed registration of a present library marks it failed.
func (o *Orchestrator) registerComponents(installRoot string, dlls ...string) (Outcome, error) {
	return o.eachComponent(dlls, func(path string) (bool, error) {
		return o.com.Register(path)
	}, installRoot)
}

func (o *Orchestrator) unregisterComponents(installRoot string, dlls ...string) (Outcome, error) {
	return o.eachComponent(dlls, func(path string) (bool, error) {
		return o.com.Unregister(path)
	}, installRoot)
}

func (o *Orchestrator) eachComponent(dlls []string, op func(string) (bool, error), installRoot string) (Outcome, error) {
	outcome := OutcomeSuccess
	var errs []error
	for _, dll := range dlls {
		ok, err := op(filepath.Join(installRoot, dll))
		if err != nil {
			outcome = OutcomeFailed
			errs = append(errs, err)
			continue
		}
		if !ok && outcome != OutcomeFailed {
			outcome = OutcomeWarning
		}
	}
	if len(errs) > 0 {
		return outcome, errors.Join(errs...)
	}
	if outcome == OutcomeWarning {
		return outcome, fmt.Errorf("one or more component libraries were missing")
	}
	return outcome, nil
}

// stopAndDelete stops a driver service, then deletes its record. The stop is
// allowed to fail (the service may not be running) without blocking the
// delete.
func (o *Orchestrator) stopAndDelete(name string) (Outcome, error) {
	outcome := OutcomeSuccess
	var stopErr error
	if err := o.services.Stop(name); err != nil {
		outcome = OutcomeWarning
		stopErr = err
	}
	if err := o.services.Delete(name); err != nil {
		return OutcomeFailed, err
	}
	return outcome, stopErr
}

// setMachineFolder points the application's machine folder at the "Machines"
// sibling of the install tree, so machine definitions travel with the
// portable directory.
func (o *Orchestrator) setMachineFolder(installRoot string) error {
	machineFolder := o.opts.MachineFolder
	if machineFolder == "" {
		machineFolder = filepath.Join(filepath.Dir(installRoot), "Machines")
	}
	res := o.runner.Run(filepath.Join(installRoot, manageExe),
		"setproperty", "machinefolder", machineFolder)
	if res.ExitCode != 0 {
		return fmt.Errorf("setproperty machinefolder exited %d: %s",
			res.ExitCode, strings.TrimSpace(res.Stderr))
	}
	logging.Info("Set machine folder", "path", machineFolder)
	return nil
}

// deregisterSDS asks the system directory service binary to remove its own
// service registration. The application registers this itself on first run,
// so there is no matching install step.
func (o *Orchestrator) deregisterSDS(installRoot string) error {
	res := o.runner.Run(filepath.Join(installRoot, sdsExe), "/UnregService")
	if res.ExitCode != 0 {
		return fmt.Errorf("%s /UnregService exited %d: %s",
			sdsExe, res.ExitCode, strings.TrimSpace(res.Stderr))
	}
	logging.Info("Deregistered system directory service")
	return nil
}
