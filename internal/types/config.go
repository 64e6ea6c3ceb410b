package types

import (
	"os"
	"path/filepath"
	"runtime"
	"time"
)

// ToolVersion is the version checked against a manifest's `partcad` specifier.
const ToolVersion = "0.7.135"

const DefaultPythonVersion = "3.11"

type UserConfig struct {
	StateDir       string
	ForceUpdate    bool
	Sandbox        SandboxStrategy
	PythonVersion  string
	ThreadsMax     int
	ScriptTimeout  time.Duration
	CacheFailures  bool
	OpenSCADBinary string
	AICommand      []string
}

func DefaultUserConfig() UserConfig {
	return UserConfig{
		StateDir:       DefaultStateDir(),
		Sandbox:        SandboxNone,
		PythonVersion:  DefaultPythonVersion,
		ThreadsMax:     DefaultThreads(),
		ScriptTimeout:  10 * time.Minute,
		OpenSCADBinary: "openscad",
	}
}

func DefaultStateDir() string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		home = os.Getenv("HOME")
	}
	return filepath.Join(home, ".partcad")
}

// DefaultThreads leaves one core to the orchestrating goroutines.
func DefaultThreads() int {
	return max(1, runtime.NumCPU()-1)
}

func (c UserConfig) GitCacheDir() string { return filepath.Join(c.StateDir, "git") }

func (c UserConfig) TarCacheDir() string { return filepath.Join(c.StateDir, "tar") }

func (c UserConfig) RuntimeDir() string { return filepath.Join(c.StateDir, "runtime") }
