package main

import (
	"os"

	"voice-command-router/cli"
)

func main() {
	os.Exit(cli.Execute())
}
