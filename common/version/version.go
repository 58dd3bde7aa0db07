// Package version carries the build metadata stamped into the saline binary.
package version

import "fmt"

// Stamped at build time, e.g.
//
//	go build -ldflags "-X github.com/salinechat/saline/common/version.Version=v1.2.0"
var (
	Version   = "v0.0.0-dev"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

// Info renders the one-line string shown by "saline version".
func Info() string {
	return fmt.Sprintf("%s (%s) built %s", Version, GitCommit, BuildDate)
}
