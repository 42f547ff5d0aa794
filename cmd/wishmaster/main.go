package main

import (
	"os"

	"wishmaster/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
