package main

import (
	"fmt"
	"os"

	"github.com/homer-dev/homer/internal/cli"
	"github.com/homer-dev/homer/internal/version"
)

func main() {
	rootCmd := cli.RootCmd()
	rootCmd.Version = version.String()

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
