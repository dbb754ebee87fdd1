// Command dxrunner dispatches and governs long-running headless
// coding-agent jobs.
package main

import "github.com/3leaps/dxrunner/internal/cmd"

// Build metadata injected via -ldflags.
var (
	version   = "dev"
	commit    = "HEAD"
	buildDate = "unknown"
)

func main() {
	cmd.SetVersionInfo(version, commit, buildDate)
	cmd.Execute()
}
