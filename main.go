package main

import (
	"os"

	"github.com/walletkit/balance-tracker/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
