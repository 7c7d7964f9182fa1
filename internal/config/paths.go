package config

import (
	"os"
	"path/filepath"
)

// Paths resolves the on-disk layout of a qtb workspace once, at startup.
// The configuration directory can be redirected with QTB_CONFIG_DIR; run
// state always lives under the workspace root.
type Paths struct {
	ConfigDir           string
	HostsFile           string
	ImplementationsFile string
	ExperimentsDir      string
	RunsDir             string
}

// ResolvePaths builds the workspace layout rooted at root. An empty
// QTB_CONFIG_DIR means configs/ under the root.
func ResolvePaths(root string) Paths {
	abs, err := filepath.Abs(root)
	if err == nil {
		root = abs
	}
	configDir := os.Getenv("QTB_CONFIG_DIR")
	if configDir == "" {
		configDir = filepath.Join(root, "configs")
	}
	return Paths{
		ConfigDir:           configDir,
		HostsFile:           filepath.Join(configDir, "hosts.yml"),
		ImplementationsFile: filepath.Join(configDir, "implementations.yml"),
		ExperimentsDir:      filepath.Join(configDir, "experiments"),
		RunsDir:             filepath.Join(root, "runs"),
	}
}
