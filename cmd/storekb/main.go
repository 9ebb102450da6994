// Command storekb keeps a store's knowledge base in sync and answers
// questions from it.
package main

import (
	"os"

	"github.com/custodia-labs/storekb/internal/adapters/driving/cli"
	"github.com/custodia-labs/storekb/internal/app"
)

// version is set at build time via -ldflags "-X main.version=...".
var version = "dev"

func main() {
	cli.SetVersion(version)
	cli.SetBootstrap(app.Bootstrap)
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
