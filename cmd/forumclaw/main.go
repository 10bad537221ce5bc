// Package main provides the entry point for the forumclaw CLI.
package main

import (
	"os"

	"github.com/forumclaw/forumclaw/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
