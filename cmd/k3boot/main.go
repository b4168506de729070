// Package main is the entry point for the k3boot CLI.
//
// k3boot turns a set of freshly created cloud servers into a
// highly-available k3s cluster: it installs the base image, renders the
// per-node k3s configuration, initiates the cluster on the first control
// plane, joins the remaining nodes, and applies the add-on bundle.
//
// Commands: bootstrap, render, version.
//
// For detailed usage information, run:
//
//	k3boot --help
package main

import (
	"fmt"
	"os"

	"github.com/k3boot/k3boot/cmd/k3boot/commands"
)

// Version information set by goreleaser at build time.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	commands.SetVersionInfo(version, commit, date)
	if err := commands.Root().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
