package main

import (
	"os"

	"nitropay/cmd/nitropay/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
