// Command ringside-admin runs maintenance tasks against the Ringside database.
package main

import (
	"fmt"
	"os"
)

var Version = "dev"

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
