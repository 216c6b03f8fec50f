// SPDX-License-Identifier: MIT
//
// Package build carries the version information embedded in the binary.
// Release builds set it with linker flags:
//
//	go build -ldflags "-X melpipe/pkg/build.buildVersion=v0.3.0 -X melpipe/pkg/build.buildCommit=$(git rev-parse HEAD) -X melpipe/pkg/build.buildTime=$(date -u +%FT%TZ)"
//
// Plain `go build` and `go install` binaries fall back to the VCS stamps the
// Go toolchain records.
package build

import (
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
)

const unknown = "unknown"

// ErrMissingFlag reports build information that neither the linker flags
// nor the toolchain stamps provide.
var ErrMissingFlag = errors.New("build: missing build information")

// Info describes the running binary.
type Info struct {
	Name        string
	Description string
	Time        string
	Commit      string
	Version     string
}

// String formats Info for --version output.
func (i Info) String() string {
	return fmt.Sprintf("%s %s (commit %s, built %s)", i.Name, i.Version, i.Commit, i.Time)
}

// Package-level variables for build information, populated by -ldflags.
var (
	buildName    string
	buildTime    string
	buildCommit  string
	buildVersion string

	readBuildInfo = debug.ReadBuildInfo

	info = defaultInfo()
)

func defaultInfo() Info {
	return Info{
		Name:        "melpipe",
		Description: "Mel filterbank and MFCC feature extraction for audio streams",
		Time:        unknown,
		Commit:      unknown,
		Version:     unknown,
	}
}

// Initialize resolves the build information. Linker flags win over
// toolchain stamps. The returned error wraps ErrMissingFlag and names the
// fields left unknown; Get is usable either way.
func Initialize() error {
	i := defaultInfo()

	if bi, ok := readBuildInfo(); ok {
		if v := bi.Main.Version; v != "" && v != "(devel)" {
			i.Version = v
		}
		for _, s := range bi.Settings {
			switch s.Key {
			case "vcs.revision":
				i.Commit = s.Value
			case "vcs.time":
				i.Time = s.Value
			}
		}
	}

	for _, f := range []struct {
		dst *string
		src string
	}{
		{&i.Name, buildName},
		{&i.Time, buildTime},
		{&i.Commit, buildCommit},
		{&i.Version, buildVersion},
	} {
		if f.src != "" {
			*f.dst = f.src
		}
	}
	info = i

	var missing []string
	if i.Version == unknown {
		missing = append(missing, "version")
	}
	if i.Commit == unknown {
		missing = append(missing, "commit")
	}
	if i.Time == unknown {
		missing = append(missing, "time")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s", ErrMissingFlag, strings.Join(missing, ", "))
	}
	return nil
}

// Get returns the build information resolved by Initialize.
func Get() Info {
	return info
}
