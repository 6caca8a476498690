// Package version holds build information, set at build time with ldflags:
//
//	go build -ldflags "-X EnigmaNetz/Enigma-Tshark/internal/version.Version=v1.2.0 -X EnigmaNetz/Enigma-Tshark/internal/version.CommitHash=$(git rev-parse --short HEAD)" ./cmd/enigma-tshark
package version

import (
	"fmt"
	"runtime"
)

// Version is the release version. "dev" for local builds.
var Version = "dev"

// CommitHash is the git commit the binary was built from.
var CommitHash = ""

// BuildTime is the build timestamp.
var BuildTime = ""

// GetFullVersion returns version with commit hash if available
func GetFullVersion() string {
	v := Version
	if CommitHash != "" {
		v += "+" + CommitHash
	}
	return v
}

// String is the one-line description printed by the version command.
func String() string {
	s := fmt.Sprintf("enigma-tshark %s (%s/%s, %s)", GetFullVersion(), runtime.GOOS, runtime.GOARCH, runtime.Version())
	if BuildTime != "" {
		s += " built " + BuildTime
	}
	return s
}
