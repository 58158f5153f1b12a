// Package version executes and returns the version of the running
// VerSafe binary.
package version

import (
	"fmt"
	"runtime"
)

// The value of these vars are set through linker options.
var gitCommit = "Local build"
var buildDate = "Moments ago"
var gitTag = "Unknown"

// Version returns the version string of this build.
func Version() string {
	return fmt.Sprintf("VerSafe/%s. Built at: %s. With go version: %s %s/%s",
		gitTag, buildDate, runtime.Version(), runtime.GOOS, runtime.GOARCH)
}

// SemanticVersion returns the semantic version of this build.
func SemanticVersion() string {
	return gitTag
}
