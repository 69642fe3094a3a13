package common

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Version information (set via -ldflags during build)
var (
	Version   = "dev"
	Build     = "unknown"
	GitCommit = "unknown"
)

// BuildInfo describes the running binary
type BuildInfo struct {
	Version   string `json:"version"`
	Build     string `json:"build"`
	GitCommit string `json:"git_commit"`
}

// GetBuildInfo returns the version of the running binary
func GetBuildInfo() BuildInfo {
	return BuildInfo{
		Version:   Version,
		Build:     Build,
		GitCommit: GitCommit,
	}
}

func (b BuildInfo) String() string {
	return fmt.Sprintf("%s (build: %s, commit: %s)", b.Version, b.Build, b.GitCommit)
}

// LoadVersionFromFile overrides Version with the .version file shipped beside
// the executable, when there is one
func LoadVersionFromFile() string {
	exePath, err := os.Executable()
	if err != nil {
		return Version
	}
	return loadVersion(filepath.Join(filepath.Dir(exePath), ".version"))
}

func loadVersion(path string) string {
	data, err := os.ReadFile(path)
	if err != nil {
		return Version
	}
	if version := strings.TrimSpace(string(data)); version != "" {
		Version = version
	}
	return Version
}
