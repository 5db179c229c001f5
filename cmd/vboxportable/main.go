// cmd/vboxportable/main.go

package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"syscall"

	"github.com/gonutz/w32"
	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"

	"github.com/windowsadmins/vboxportable/pkg/command"
	"github.com/windowsadmins/vboxportable/pkg/config"
	"github.com/windowsadmins/vboxportable/pkg/download"
	"github.com/windowsadmins/vboxportable/pkg/extract"
	"github.com/windowsadmins/vboxportable/pkg/launch"
	"github.com/windowsadmins/vboxportable/pkg/lifecycle"
	"github.com/windowsadmins/vboxportable/pkg/logging"
	"github.com/windowsadmins/vboxportable/pkg/status"
	"github.com/windowsadmins/vboxportable/pkg/version"
)

var logger *logging.Logger

// Seams for the elevation flow.
var (
	isElevated = status.IsElevated
	relaunch   = relaunchElevated
)

func main() {
	downloadFlag := pflag.Bool("download", false, "Download the latest installer and unpack the portable tree.")
	installFlag := pflag.Bool("install", false, "Register the drivers, services and components for the portable tree.")
	uninstallFlag := pflag.Bool("uninstall", false, "Remove the registered drivers, services and components.")
	launchFlag := pflag.Bool("launch", false, "Launch the portable application and wait for it to exit.")
	statusFlag := pflag.Bool("status", false, "Report the registered system footprint and exit.")
	showConfig := pflag.Bool("show-config", false, "Display the current configuration and exit.")
	versionFlag := pflag.Bool("version", false, "Print the version and exit.")
	noElevate := pflag.Bool("no-elevate", false, "Fail instead of relaunching elevated.")

	// Count the number of -v flags.
	var verbosity int
	pflag.CountVarP(&verbosity, "verbose", "v", "Increase verbosity (e.g. -v, -vv, -vvv)")
	pflag.Parse()

	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Override LogLevel based on the number of -v flags.
	switch verbosity {
	case 0:
		// keep configured level
	case 1:
		cfg.LogLevel = "INFO"
		cfg.Verbose = true
	case 2:
		cfg.LogLevel = "INFO"
		cfg.Verbose = true
	default:
		cfg.LogLevel = "DEBUG"
		cfg.Verbose = true
		cfg.Debug = true
	}

	logger = logging.New(verbosity > 0)
	if err := logging.Init(cfg); err != nil {
		logger.Fatal("Error initializing logger: %v", err)
	}
	defer logging.CloseLogger()

	if *versionFlag {
		version.Print()
		os.Exit(0)
	}

	if *showConfig {
		if cfgYaml, err := yaml.Marshal(cfg); err == nil {
			logger.Printf("Current configuration:\n%s", string(cfgYaml))
		}
		os.Exit(0)
	}

	if *installFlag && *uninstallFlag {
		logger.Warning("Conflicting flags: --install and --uninstall are mutually exclusive")
		pflag.Usage()
		os.Exit(1)
	}

	// The registration sequences change the service database; make sure we
	// hold administrator privilege before attempting any of it.
	if (*installFlag || *uninstallFlag) && !isElevated() {
		if *noElevate {
			logger.Error("Administrator privilege required; rerun from an elevated prompt")
			os.Exit(1)
		}
		relaunch()
		os.Exit(0)
	}

	switch {
	case *downloadFlag:
		os.Exit(runDownload(cfg))
	case *installFlag:
		os.Exit(runInstall(cfg))
	case *uninstallFlag:
		os.Exit(runUninstall(cfg))
	case *launchFlag:
		os.Exit(runLaunch(cfg))
	case *statusFlag:
		os.Exit(runStatus())
	default:
		os.Exit(runMenu(cfg))
	}
}

// relaunchElevated restarts this process through the shell with the "runas"
// verb, which triggers the elevation prompt.
func relaunchElevated() {
	exe, err := os.Executable()
	if err != nil {
		logger.Fatal("Cannot determine own executable path: %v", err)
	}
	logger.Info("Requesting elevation...")
	if err := w32.ShellExecute(0, "runas", exe, quoteArgs(os.Args[1:]), "", w32.SW_SHOWNORMAL); err != nil {
		logger.Fatal("Elevation request failed: %v", err)
	}
}

// quoteArgs rebuilds a command line from individual arguments; arguments
// containing spaces or quotes survive the shell round trip intact.
func quoteArgs(args []string) string {
	quoted := make([]string, len(args))
	for i, a := range args {
		quoted[i] = syscall.EscapeArg(a)
	}
	return strings.Join(quoted, " ")
}

// ensureElevated reports whether the process holds administrator privilege,
// relaunching itself elevated when it does not. After a relaunch the caller
// should exit: the elevated copy takes over.
func ensureElevated() bool {
	if isElevated() {
		return true
	}
	relaunch()
	return false
}

func runMenu(cfg *config.Configuration) int {
	reader := bufio.NewReader(os.Stdin)
	for {
		fmt.Println()
		fmt.Println("Portable VirtualBox")
		fmt.Println("  1. Download")
		fmt.Println("  2. Install")
		fmt.Println("  3. Uninstall")
		fmt.Println("  4. Launch")
		fmt.Println("  5. Status")
		fmt.Println("  0. Exit")
		fmt.Print("Select: ")

		line, err := reader.ReadString('\n')
		if err != nil {
			return 0
		}

		switch strings.TrimSpace(line) {
		case "1":
			runDownload(cfg)
		case "2":
			if !ensureElevated() {
				return 0
			}
			runInstall(cfg)
		case "3":
			if !ensureElevated() {
				return 0
			}
			runUninstall(cfg)
		case "4":
			runLaunch(cfg)
		case "5":
			runStatus()
		case "0", "q":
			return 0
		default:
			logger.Warning("Unknown selection")
		}
	}
}

func runDownload(cfg *config.Configuration) int {
	installerPath, err := download.FetchInstaller(cfg)
	if err != nil {
		logger.Error("Download failed: %v", err)
		return 1
	}
	logger.Success("Installer ready: %s", installerPath)

	if cfg.CheckOnly {
		logger.Info("CheckOnly mode: skipping extraction")
		return 0
	}

	extractor := extract.NewExtractor(command.NewRunner())
	if err := extractor.Unpack(installerPath, cfg.InstallPath); err != nil {
		logger.Error("Extraction failed: %v", err)
		return 1
	}
	logger.Success("Portable tree ready: %s", cfg.InstallPath)
	return 0
}

func runInstall(cfg *config.Configuration) int {
	orch := lifecycle.New(lifecycle.Options{
		Verbose:       cfg.Verbose,
		ToolsFolder:   cfg.ToolsFolder,
		MachineFolder: cfg.MachineFolder,
	})
	results, err := orch.Install(cfg.InstallPath)
	if err != nil {
		logger.Error("Install aborted: %v", err)
		return 1
	}
	reportSteps("Install", results)
	return 0
}

func runUninstall(cfg *config.Configuration) int {
	if running := launch.RunningProcesses(); len(running) > 0 {
		logger.Warning("Application processes still running: %s", strings.Join(running, ", "))
	}

	orch := lifecycle.New(lifecycle.Options{
		Verbose:       cfg.Verbose,
		ToolsFolder:   cfg.ToolsFolder,
		MachineFolder: cfg.MachineFolder,
	})
	results, err := orch.Uninstall(cfg.InstallPath)
	if err != nil {
		logger.Error("Uninstall aborted: %v", err)
		return 1
	}
	reportSteps("Uninstall", results)
	return 0
}

func runLaunch(cfg *config.Configuration) int {
	if err := launch.Run(cfg.InstallPath); err != nil {
		logger.Error("Launch failed: %v", err)
		return 1
	}
	return 0
}

func runStatus() int {
	states, err := status.Footprint()
	if err != nil {
		logger.Error("Footprint query failed: %v", err)
		return 1
	}
	if len(states) == 0 {
		logger.Info("No VirtualBox services or drivers registered")
		return 0
	}
	for _, s := range states {
		logger.Printf("%-16s %-10s started=%-5t %s", s.Name, s.State, s.Started, s.PathName)
	}
	return 0
}

// reportSteps prints the per-step outcomes. The process still exits 0 when
// individual steps failed: rerunning is the repair path, and the operator
// decides based on this report.
func reportSteps(action string, results []lifecycle.StepResult) {
	failed, warned := 0, 0
	for _, r := range results {
		switch r.Outcome {
		case lifecycle.OutcomeFailed:
			failed++
			logger.Error("  %-42s %s (%v)", r.Step, r.Outcome, r.Err)
		case lifecycle.OutcomeWarning:
			warned++
			logger.Warning("  %-42s %s (%v)", r.Step, r.Outcome, r.Err)
		default:
			logger.Success("  %-42s %s", r.Step, r.Outcome)
		}
	}
	if failed > 0 || warned > 0 {
		logger.Warning("%s finished with %d failed and %d warning step(s); rerun to repair", action, failed, warned)
	} else {
		logger.Success("%s completed", action)
	}
}
