package config

import (
	"os"
	"path/filepath"
	"strings"
)

const (
	envConfigDir = "RESTFLOW_CONFIG_DIR"
	appDirName   = "restflow"
)

// Dir is where settings and local data live. RESTFLOW_CONFIG_DIR wins over
// the platform config directory.
func Dir() string {
	if dir := strings.TrimSpace(os.Getenv(envConfigDir)); dir != "" {
		return dir
	}
	if base, err := os.UserConfigDir(); err == nil && base != "" {
		return filepath.Join(base, appDirName)
	}
	if home, err := os.UserHomeDir(); err == nil && home != "" {
		return filepath.Join(home, "."+appDirName)
	}
	return "." + appDirName
}

func DataDir() string {
	return filepath.Join(Dir(), "data")
}
