package main

import (
	"os"

	"github.com/nimasrn/drone-dispatch/pkg/logger"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		logger.Error("command failed", "error", err)
		os.Exit(1)
	}
}
