package main

import (
	"os"

	"github.com/rustyeddy/railtrader/cmd/railtrader/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
