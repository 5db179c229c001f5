package comreg

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

func TestRegisterMissingLibraryIsSoftSkip(t *testing.T) {
	runner := &fakeRunner{}
	ok, err := NewRegistrar(runner).Register(filepath.Join(t.TempDir(), "missing.dll"))

	require.NoError(t, err, "a missing library is a warning, not an error")
	assert.False(t, ok)
	assert.Empty(t, runner.calls, "no process may be spawned for a missing library")
}

func TestRegisterRunsRegsvr32Silently(t *testing.T) {
	dll := filepath.Join(t.TempDir(), "VBoxProxyStub.dll")
	require.NoError(t, os.WriteFile(dll, []byte("x"), 0644))

	runner := &fakeRunner{result: command.Result{ExitCode: 0}}
	ok, err := NewRegistrar(runner).Register(dll)

	require.NoError(t, err)
	assert.True(t, ok)
	require.Len(t, runner.calls, 1)
	assert.Equal(t, []string{"regsvr32.exe", "/s", dll}, runner.calls[0])
}

func TestRegisterPresentLibraryFailureIsHardError(t *testing.T) {
	dll := filepath.Join(t.TempDir(), "VBoxC.dll")
	require.NoError(t, os.WriteFile(dll, []byte("x"), 0644))

	runner := &fakeRunner{result: command.Result{ExitCode: 3, Stderr: "DllRegisterServer failed"}}
	ok, err := NewRegistrar(runner).Register(dll)

	assert.False(t, ok)
	var regErr *RegistrationError
	require.True(t, errors.As(err, &regErr))
	assert.Equal(t, "register", regErr.Op)
	assert.Equal(t, dll, regErr.DLL)
	assert.Equal(t, 3, regErr.ExitCode)
}

func TestUnregister(t *testing.T) {
	dll := filepath.Join(t.TempDir(), "VBoxClient-x86.dll")
	require.NoError(t, os.WriteFile(dll, []byte("x"), 0644))

	runner := &fakeRunner{result: command.Result{ExitCode: 0}}
	ok, err := NewRegistrar(runner).Unregister(dll)

	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []string{"regsvr32.exe", "/u", "/s", dll}, runner.calls[0])

	runner = &fakeRunner{}
	ok, err = NewRegistrar(runner).Unregister(filepath.Join(t.TempDir(), "missing.dll"))
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Empty(t, runner.calls)
}
