package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"github.com/corpusgate/corpusgate/cmd"
)

func main() {
	// Optional .env for local development; real deployments use the
	// environment directly.
	_ = godotenv.Load()

	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
