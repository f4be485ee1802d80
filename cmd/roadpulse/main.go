package main

import (
	"os"

	"github.com/jaylee/roadpulse/backend/cmd/roadpulse/commands"
)

// main is the entry point for the RoadPulse CLI
func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
