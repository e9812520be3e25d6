package main

import (
	"os"

	"github.com/koltyakov/wazuhproxy/internal/cli"
)

func main() {
	os.Exit(cli.Run(os.Args[1:]))
}
