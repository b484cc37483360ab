package main

import (
	"fmt"
	"os"

	"github.com/MrSnakeDoc/integrator/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "❌ integrator: %v\n", err)
		os.Exit(1)
	}
}
