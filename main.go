package main

import (
	"os"

	"github.com/pagekit-dev/pagekit/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
