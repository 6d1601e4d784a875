package main

import (
	"os"

	"github.com/schedprobe/schedprobe/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
