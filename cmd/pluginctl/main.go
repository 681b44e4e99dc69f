// Package main provides the entry point for the pluginctl CLI.
package main

import "os"

func main() {
	if err := Execute(); err != nil {
		printError(err)
		os.Exit(exitCode(err))
	}
}
