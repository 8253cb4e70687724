package main

import (
	"os"

	"github.com/dl-alexandre/mrisync/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
