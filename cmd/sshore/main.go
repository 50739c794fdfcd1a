package main

import (
	"log"
	"os"
)

func main() {
	// Logs go to stderr so they never interleave with forwarded terminal data.
	log.SetOutput(os.Stderr)
	log.SetFlags(0)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
