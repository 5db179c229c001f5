// pkg/status/status.go - diagnostics for the registered system footprint.

package status

import (
	"golang.org/x/sys/windows"

	"github.com/yusufpapurcu/wmi"
)

// ServiceState is one service or driver record belonging to the application.
type ServiceState struct {
	Name        string
	DisplayName string
	State       string
	Started     bool
	PathName    string
}

type win32BaseService struct {
	Name        string
	DisplayName string
	State       string
	Started     bool
	PathName    string
}

// Footprint queries the service database for every VirtualBox service and
// driver record. Win32_BaseService covers both user-mode services and
// kernel drivers, so one query reports the whole footprint.
func Footprint() ([]ServiceState, error) {
	var records []win32BaseService
	query := "SELECT Name, DisplayName, State, Started, PathName FROM Win32_BaseService WHERE Name LIKE 'VBox%'"
	if err := wmi.Query(query, &records); err != nil {
		return nil, err
	}

	states := make([]ServiceState, 0, len(records))
	for _, r := range records {
		states = append(states, ServiceState(r))
	}
	return states, nil
}

// IsElevated reports whether the current process token carries administrator
// privilege. The registration sequences require it.
func IsElevated() bool {
	return windows.GetCurrentProcessToken().IsElevated()
}
