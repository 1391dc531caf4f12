package config

import "fmt"

// Set with -ldflags at release time:
//
//	go build -ldflags "-X escalator/internal/config.version=1.4.0 \
//	    -X escalator/internal/config.commit=$(git rev-parse --short HEAD) \
//	    -X escalator/internal/config.buildTime=$(date -u +%Y-%m-%dT%H:%M:%SZ)"
var (
	version   = "dev"
	commit    = "none"
	buildTime = "unknown"
)

// NewBuildInfo snapshots the linker-injected variables.
func NewBuildInfo() BuildInfo {
	return BuildInfo{
		Version:   version,
		Commit:    commit,
		BuildTime: buildTime,
	}
}

// String renders the build for startup logs, e.g. "1.4.0 (abc1234, 2026-10-01T00:00:00Z)".
func (b BuildInfo) String() string {
	return fmt.Sprintf("%s (%s, %s)", b.Version, b.Commit, b.BuildTime)
}
