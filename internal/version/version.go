// Package version carries the build identity, set with -ldflags -X.
package version

import "fmt"

var (
	// Version is the current application version
	Version = "dev"
	// GitSHA is the git commit SHA
	GitSHA = "unknown"
	// BuildTime is the build timestamp
	BuildTime = "unknown"
)

// String renders the build identity on one line.
func String() string {
	return fmt.Sprintf("racelog %s (git %s, built %s)", Version, GitSHA, BuildTime)
}
