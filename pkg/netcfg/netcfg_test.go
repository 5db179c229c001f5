package netcfg

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/windowsadmins/vboxportable/pkg/command"
)

type fakeRunner struct {
	calls  [][]string
	result command.Result
}

func (f *fakeRunner) Run(name string, args ...string) command.Result {
	f.calls = append(f.calls, append([]string{name}, args...))
	return f.result
}

func writeFile(t *testing.T, dir, name string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte("x"), 0644))
	return path
}

func TestInstallRunsConfigTool(t *testing.T) {
	dir := t.TempDir()
	tool := writeFile(t, dir, "snetcfg.exe")
	inf := writeFile(t, dir, "VBoxNetLwf.inf")

	runner := &fakeRunner{result: command.Result{ExitCode: 0}}
	err := NewConfigurer(runner).Install(tool, inf, "oracle_VBoxNetLwf")
	require.NoError(t, err)

	require.Len(t, runner.calls, 1)
	assert.Equal(t, []string{tool, "-l", inf, "-c", "s", "-i", "oracle_VBoxNetLwf"}, runner.calls[0])
}

func TestInstallMissingPathsFailBeforeSpawning(t *testing.T) {
	dir := t.TempDir()
	inf := writeFile(t, dir, "VBoxNetLwf.inf")

	runner := &fakeRunner{}
	err := NewConfigurer(runner).Install(filepath.Join(dir, "nope.exe"), inf, "oracle_VBoxNetLwf")

	var preErr *command.PreconditionError
	require.True(t, errors.As(err, &preErr))
	assert.Empty(t, runner.calls, "no process may be spawned on a failed precondition")
}

func TestInstallReturnsNetworkConfigErrorOnNonZeroExit(t *testing.T) {
	dir := t.TempDir()
	tool := writeFile(t, dir, "snetcfg.exe")
	inf := writeFile(t, dir, "VBoxNetLwf.inf")

	runner := &fakeRunner{result: command.Result{ExitCode: 3, Stderr: "binding failed"}}
	err := NewConfigurer(runner).Install(tool, inf, "oracle_VBoxNetLwf")

	var netErr *NetworkConfigError
	require.True(t, errors.As(err, &netErr))
	assert.Equal(t, "install", netErr.Op)
	assert.Equal(t, "oracle_VBoxNetLwf", netErr.ComponentID)
	assert.Equal(t, 3, netErr.ExitCode)
}

func TestUninstall(t *testing.T) {
	dir := t.TempDir()
	tool := writeFile(t, dir, "snetcfg.exe")

	runner := &fakeRunner{result: command.Result{ExitCode: 0}}
	require.NoError(t, NewConfigurer(runner).Uninstall(tool, "oracle_VBoxNetLwf"))
	assert.Equal(t, []string{tool, "-u", "oracle_VBoxNetLwf"}, runner.calls[0])

	runner = &fakeRunner{result: command.Result{ExitCode: 1}}
	err := NewConfigurer(runner).Uninstall(tool, "oracle_VBoxNetLwf")
	var netErr *NetworkConfigError
	require.True(t, errors.As(err, &netErr))
	assert.Equal(t, "uninstall", netErr.Op)
}
