// Package version holds build metadata injected via ldflags.
package version

import "fmt"

//nolint:revive // Set via ldflags at build time.
var (
	Version = "dev"
	Commit  = "unknown"
	Date    = "unknown"
)

// String renders the build metadata for humans.
func String() string {
	return fmt.Sprintf("%s (commit %s, built %s)", Version, Commit, Date)
}

// Agent identifies a vulnharvest component in audit records, e.g. "vulnharvest-cli/1.4.0".
func Agent(component string) string {
	return "vulnharvest-" + component + "/" + Version
}
