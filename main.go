package main

import (
	"os"

	"github.com/Lu1s-png/fleetbackup/cmd"
)

func main() {
	os.Exit(cmd.Execute())
}
