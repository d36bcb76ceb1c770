// Command odcsd runs the On-Demand Compose Service: the HTTP API, the
// scheduler and expirer control loops, and the database migrator, as
// separate cobra subcommands sharing one configuration loader.
package main

import (
	"github.com/release-engineering/odcs/internal/cmd"
)

// version, commit, and built are overridden at build time with -ldflags.
var (
	version = "dev"
	commit  = "unknown"
	built   = "unknown"
)

func main() {
	cmd.Version = version
	cmd.Commit = commit
	cmd.Built = built
	cmd.Execute()
}
