package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestGetDefaultConfig(t *testing.T) {
	cfg := GetDefaultConfig()

	assert.Equal(t, `C:\PortableVirtualBox\app`, cfg.InstallPath)
	assert.Equal(t, "https://www.virtualbox.org/wiki/Downloads", cfg.DownloadPageURL)
	assert.Equal(t, "INFO", cfg.LogLevel)
	assert.Equal(t, 60, cfg.DownloadTimeoutSeconds)
	assert.Empty(t, cfg.MachineFolder, "machine folder defaults to the install tree sibling")
}

func TestApplyDefaultsFillsOnlyEmptyFields(t *testing.T) {
	cfg := &Configuration{
		InstallPath: `D:\vbox\app`,
		LogLevel:    "DEBUG",
	}
	applyDefaults(cfg)

	assert.Equal(t, `D:\vbox\app`, cfg.InstallPath)
	assert.Equal(t, "DEBUG", cfg.LogLevel)
	assert.Equal(t, GetDefaultConfig().CachePath, cfg.CachePath)
	assert.Equal(t, 60, cfg.DownloadTimeoutSeconds)
}

func TestPartialYAMLKeepsDefaultsForOmittedFields(t *testing.T) {
	cfg := GetDefaultConfig()
	data := []byte("InstallPath: 'E:\\portable\\app'\nVerbose: true\n")
	require.NoError(t, yaml.Unmarshal(data, cfg))
	applyDefaults(cfg)

	assert.Equal(t, `E:\portable\app`, cfg.InstallPath)
	assert.True(t, cfg.Verbose)
	assert.Equal(t, "https://www.virtualbox.org/wiki/Downloads", cfg.DownloadPageURL)
	assert.Equal(t, "INFO", cfg.LogLevel)
}
