package main

import (
	"os"

	"github.com/funnelcast/funnelcast/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
