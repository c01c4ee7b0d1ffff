// Package version holds build metadata injected via ldflags:
//
//	-X github.com/Ingee529/UIC-RAG-Policy-chatbot/internal/version.Version=v1.2.0
package version

import "fmt"

//nolint:revive // Set via ldflags at build time.
var (
	Version = "dev"
	Commit  = "unknown"
	Date    = "unknown"
)

// String renders the build metadata as printed by `policyrag version`.
func String() string {
	return fmt.Sprintf("policyrag %s (commit: %s, built: %s)", Version, Commit, Date)
}
