package main

import (
	"os"

	"github.com/zefrenchwan/registries.git/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}
