// Package version carries build information injected with ldflags:
//
//	go build -ldflags "-X ticketsmith/pkg/version.Version=v0.3.0 -X ticketsmith/pkg/version.Commit=$(git rev-parse --short HEAD)"
package version

import "fmt"

//nolint:gochecknoglobals // These must be package-level vars for ldflags injection.
var (
	// Version is the semantic version, "dev" for local builds.
	Version = "dev"

	// Commit is the git commit SHA of the build.
	Commit = "none"

	// Date is the build date in ISO format.
	Date = "unknown"
)

// String formats the build information for --version output.
func String() string {
	return fmt.Sprintf("ticketsmith %s (commit %s, built %s)", Version, Commit, Date)
}
