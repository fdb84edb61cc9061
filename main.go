package main

import (
	"os"

	"github.com/RichardTsang202/crypto-monitor-vercel/internal/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
