// Package version carries build metadata injected with -ldflags -X.
package version

import (
	"fmt"
	"runtime"
)

var (
	// Version is the release tag, or "dev" for local builds.
	Version = "dev"
	// GitSHA is the commit the binary was built from.
	GitSHA = "unknown"
	// BuildTime is the build timestamp.
	BuildTime = "unknown"
)

// String formats the build metadata for the version command.
func String() string {
	return fmt.Sprintf("mockscanner %s (git %s, built %s, %s %s/%s)",
		Version, GitSHA, BuildTime, runtime.Version(), runtime.GOOS, runtime.GOARCH)
}
