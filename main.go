package main

import (
	"os"

	"github.com/censys-research/shodan-ng/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
