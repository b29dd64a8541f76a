// Package identity names a running pulsemix daemon: host, build version and a
// per-process session id that tags its telemetry.
package identity

import (
	"os"
	"path/filepath"
	"runtime/debug"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

// DefaultVersion is reported when neither a version file nor build info names one.
const DefaultVersion = "0.1.0"

// VersionFile is read from the data directory by Current.
const VersionFile = "version.yaml"

// Info holds daemon identity information.
type Info struct {
	Hostname string
	Version  string
	Session  string
}

// Current returns the identity of this process, reading the version from dir.
func Current(dir string) Info {
	return Info{
		Hostname: Hostname(),
		Version:  VersionFromDir(dir),
		Session:  NewSession(),
	}
}

// Hostname returns the system hostname, or "pulsemix" if it is unknown.
func Hostname() string {
	h, err := os.Hostname()
	if err != nil || h == "" {
		return "pulsemix"
	}
	return h
}

// NewSession returns a fresh session id.
func NewSession() string {
	return uuid.NewString()
}

type versionFile struct {
	Version string `yaml:"version"`
}

// VersionFromDir reads dir/version.yaml. Without one it falls back to the
// main module version from the build, then to DefaultVersion.
func VersionFromDir(dir string) string {
	if data, err := os.ReadFile(filepath.Join(dir, VersionFile)); err == nil {
		var vf versionFile
		if yaml.Unmarshal(data, &vf) == nil && vf.Version != "" {
			return vf.Version
		}
	}
	if bi, ok := debug.ReadBuildInfo(); ok {
		if v := bi.Main.Version; v != "" && v != "(devel)" {
			return v
		}
	}
	return DefaultVersion
}
