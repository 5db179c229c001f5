// pkg/config/config.go - configuration settings for vboxportable.

package config

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"

	"golang.org/x/sys/windows/registry"
	"gopkg.in/yaml.v3"
)

// DataDir is the machine-wide data directory for caches, logs and config.
const DataDir = `C:\ProgramData\PortableVirtualBox`

const ConfigPath = DataDir + `\Config.yaml`

// Registry path for enterprise policy configuration, used as a fallback
// when no Config.yaml exists.
const PolicyRegistryPath = `SOFTWARE\PortableVirtualBox\Config`

// Configuration holds the configurable options for vboxportable in YAML format.
type Configuration struct {
	InstallPath            string `yaml:"InstallPath"`
	ToolsFolder            string `yaml:"ToolsFolder"`
	CachePath              string `yaml:"CachePath"`
	MachineFolder          string `yaml:"MachineFolder"`
	DownloadPageURL        string `yaml:"DownloadPageURL"`
	LogLevel               string `yaml:"LogLevel"`
	Debug                  bool   `yaml:"Debug"`
	Verbose                bool   `yaml:"Verbose"`
	CheckOnly              bool   `yaml:"CheckOnly"`
	DownloadTimeoutSeconds int    `yaml:"DownloadTimeoutSeconds"`
}

// LoadConfig loads the configuration from a YAML file.
// If the YAML file doesn't exist, it falls back to policy registry settings,
// and failing that to the built-in defaults.
func LoadConfig() (*Configuration, error) {
	if _, err := os.Stat(ConfigPath); os.IsNotExist(err) {
		log.Printf("Configuration file does not exist: %s", ConfigPath)

		config, regErr := LoadConfigFromRegistry()
		if regErr == nil {
			log.Printf("Loaded configuration from policy registry settings")
			return config, nil
		}
		log.Printf("No policy registry settings found (%v), using defaults", regErr)

		config = GetDefaultConfig()
		if err := ensureDirectories(config); err != nil {
			return nil, err
		}
		return config, nil
	}

	data, err := os.ReadFile(ConfigPath)
	if err != nil {
		log.Printf("Failed to read configuration file: %v", err)
		return nil, err
	}

	config := GetDefaultConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		log.Printf("Failed to parse configuration file: %v", err)
		return nil, err
	}

	applyDefaults(config)
	if err := ensureDirectories(config); err != nil {
		return nil, err
	}
	return config, nil
}

// SaveConfig saves the current configuration to a YAML file.
func SaveConfig(config *Configuration) error {
	data, err := yaml.Marshal(config)
	if err != nil {
		log.Printf("Failed to serialize configuration: %v", err)
		return err
	}

	if err := os.MkdirAll(filepath.Dir(ConfigPath), 0755); err != nil {
		log.Printf("Failed to create configuration directory: %v", err)
		return err
	}

	if err := os.WriteFile(ConfigPath, data, 0644); err != nil {
		log.Printf("Failed to write configuration file: %v", err)
		return err
	}
	return nil
}

// GetDefaultConfig provides default configuration values.
func GetDefaultConfig() *Configuration {
	return &Configuration{
		InstallPath:            `C:\PortableVirtualBox\app`,
		ToolsFolder:            filepath.Join(DataDir, "tools"),
		CachePath:              filepath.Join(DataDir, "cache"),
		MachineFolder:          "",
		DownloadPageURL:        "https://www.virtualbox.org/wiki/Downloads",
		LogLevel:               "INFO",
		Debug:                  false,
		Verbose:                false,
		CheckOnly:              false,
		DownloadTimeoutSeconds: 60,
	}
}

func applyDefaults(config *Configuration) {
	def := GetDefaultConfig()
	if config.InstallPath == "" {
		config.InstallPath = def.InstallPath
	}
	if config.ToolsFolder == "" {
		config.ToolsFolder = def.ToolsFolder
	}
	if config.CachePath == "" {
		config.CachePath = def.CachePath
	}
	if config.DownloadPageURL == "" {
		config.DownloadPageURL = def.DownloadPageURL
	}
	if config.LogLevel == "" {
		config.LogLevel = def.LogLevel
	}
	if config.DownloadTimeoutSeconds == 0 {
		config.DownloadTimeoutSeconds = def.DownloadTimeoutSeconds
	}
}

func ensureDirectories(config *Configuration) error {
	for _, path := range []string{config.CachePath, config.ToolsFolder} {
		if err := os.MkdirAll(path, 0755); err != nil {
			return fmt.Errorf("creating directory %s: %v", path, err)
		}
	}
	return nil
}

// LoadConfigFromRegistry loads configuration from policy registry settings.
// This serves as a fallback when the Config.yaml file doesn't exist.
func LoadConfigFromRegistry() (*Configuration, error) {
	config := GetDefaultConfig()

	if err := loadFromRegistryPath(PolicyRegistryPath, config); err != nil {
		return nil, err
	}
	log.Printf("Loaded policy configuration from registry path: %s", PolicyRegistryPath)

	applyDefaults(config)
	if err := ensureDirectories(config); err != nil {
		return nil, err
	}
	return config, nil
}

// loadFromRegistryPath loads configuration values from a specific registry path.
func loadFromRegistryPath(registryPath string, config *Configuration) error {
	key, err := registry.OpenKey(registry.LOCAL_MACHINE, registryPath, registry.READ)
	if err != nil {
		return fmt.Errorf("failed to open policy registry key %s: %v", registryPath, err)
	}
	defer key.Close()

	loadStringFromRegistry(key, "InstallPath", &config.InstallPath)
	loadStringFromRegistry(key, "ToolsFolder", &config.ToolsFolder)
	loadStringFromRegistry(key, "CachePath", &config.CachePath)
	loadStringFromRegistry(key, "MachineFolder", &config.MachineFolder)
	loadStringFromRegistry(key, "DownloadPageURL", &config.DownloadPageURL)
	loadStringFromRegistry(key, "LogLevel", &config.LogLevel)

	loadIntFromRegistry(key, "DownloadTimeoutSeconds", &config.DownloadTimeoutSeconds)

	loadBoolFromRegistry(key, "Debug", &config.Debug)
	loadBoolFromRegistry(key, "Verbose", &config.Verbose)
	loadBoolFromRegistry(key, "CheckOnly", &config.CheckOnly)

	return nil
}

// loadStringFromRegistry loads a string value from registry if it exists.
func loadStringFromRegistry(key registry.Key, valueName string, target *string) {
	if val, _, err := key.GetStringValue(valueName); err == nil && val != "" {
		*target = val
		log.Printf("Policy: Loaded %s = %s", valueName, val)
	}
}

// loadBoolFromRegistry loads a boolean value from registry if it exists.
// Accepts various formats: "true"/"false", "1"/"0", DWORD 1/0.
func loadBoolFromRegistry(key registry.Key, valueName string, target *bool) {
	if val, _, err := key.GetStringValue(valueName); err == nil {
		if parsed, parseErr := strconv.ParseBool(val); parseErr == nil {
			*target = parsed
			log.Printf("Policy: Loaded %s = %t", valueName, parsed)
			return
		}
	}

	if val, _, err := key.GetIntegerValue(valueName); err == nil {
		*target = val != 0
		log.Printf("Policy: Loaded %s = %t", valueName, val != 0)
	}
}

// loadIntFromRegistry loads an integer value from registry if it exists.
func loadIntFromRegistry(key registry.Key, valueName string, target *int) {
	if val, _, err := key.GetStringValue(valueName); err == nil {
		if parsed, parseErr := strconv.Atoi(val); parseErr == nil {
			*target = parsed
			log.Printf("Policy: Loaded %s = %d", valueName, parsed)
			return
		}
	}

	if val, _, err := key.GetIntegerValue(valueName); err == nil {
		*target = int(val)
		log.Printf("Policy: Loaded %s = %d", valueName, int(val))
	}
}
