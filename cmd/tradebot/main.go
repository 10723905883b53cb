package main

import (
	"os"

	"bybit-techbot/internal/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
