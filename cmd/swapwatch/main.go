package main

import (
	"os"

	"skillswap-backend/cmd/swapwatch/cmd"
)

func main() {
	if err := cmd.RootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
