package main

import (
	"os"

	"github.com/fyerfyer/elis-rag/cmd/elis-rag/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
