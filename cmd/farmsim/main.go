package main

import (
	"os"

	"github.com/psantana5/farmsim/cmd/farmsim/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
