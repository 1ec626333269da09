package version

import "fmt"

// Set via ldflags at build time.
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

// String describes the running build.
func String() string {
	return fmt.Sprintf("modelbench %s (commit: %s, built: %s)", Version, GitCommit, BuildDate)
}
