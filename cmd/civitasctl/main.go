package main

import (
	"fmt"
	"os"

	"civitas/cmd/civitasctl/commands"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	if err := commands.NewRootCommand(version).Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "civitasctl: %v\n", err)
		os.Exit(1)
	}
}
