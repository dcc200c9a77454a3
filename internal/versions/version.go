// Package versions reports build information for the otel-demo-app binary.
package versions

import (
	"fmt"
	"runtime"
	"runtime/debug"
	"time"
)

const unknown = "unknown"

// Build metadata, overridden with -ldflags "-X ...".
var (
	Version   = "dev"
	Commit    = unknown
	BuildDate = unknown
)

// Info describes the running binary
type Info struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildDate string `json:"build_date"`
	GoVersion string `json:"go_version"`
	Platform  string `json:"platform"`
}

// GetVersionInfo returns the build information, filling gaps from the embedded VCS settings
func GetVersionInfo() Info {
	var settings []debug.BuildSetting
	if bi, ok := debug.ReadBuildInfo(); ok {
		settings = bi.Settings
	}
	return buildInfo(Version, Commit, BuildDate, settings)
}

func buildInfo(version, commit, buildDate string, settings []debug.BuildSetting) Info {
	if version == "dev" {
		for _, s := range settings {
			switch {
			case s.Key == "vcs.revision" && commit == unknown:
				commit = s.Value
			case s.Key == "vcs.time" && buildDate == unknown:
				buildDate = s.Value
			}
		}
	}

	if t, err := time.Parse(time.RFC3339, buildDate); err == nil {
		buildDate = t.UTC().Format("2006-01-02 15:04:05 MST")
	}

	if version == "dev" {
		version = fmt.Sprintf("build-%.8s", commit)
	}

	return Info{
		Version:   version,
		Commit:    commit,
		BuildDate: buildDate,
		GoVersion: runtime.Version(),
		Platform:  runtime.GOOS + "/" + runtime.GOARCH,
	}
}
