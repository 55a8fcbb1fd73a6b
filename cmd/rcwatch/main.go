package main

import (
	"os"

	"github.com/rcwatch/rcwatch/cmd/rcwatch/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
