package main

import (
	"fmt"
	"os"
)

const (
	payoutsCommand  = "payouts"
	simulateCommand = "simulate"
	defaultConfig   = "./funds.toml"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	var err error
	switch os.Args[1] {
	case payoutsCommand:
		err = runPayouts(os.Args[2:], os.Stdout)
	case simulateCommand:
		err = runSimulate(os.Args[2:], os.Stdout)
	default:
		usage()
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintf(os.Stderr, `Usage: fundsctl <command> [flags]

Commands:
  %s   print the payout table of a hypothetical exchange
  %s  run a YAML scenario against the funds protocol
`, payoutsCommand, simulateCommand)
}
