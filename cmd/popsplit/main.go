package main

import (
	"os"

	"github.com/popsplit/popsplit/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
