// Package version carries build metadata, set with
// -ldflags "-X github.com/veesix-networks/dpsync/pkg/version.Version=v1.2.3".
package version

import "fmt"

var (
	Version = "dev"
	Commit  = "unknown"
	Date    = "unknown"
)

func Full() string {
	return fmt.Sprintf("%s (commit %s, built %s)", Version, Commit, Date)
}
