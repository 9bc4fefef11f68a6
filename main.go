package main

import (
	"StemForge/cmd"
)

func main() {
	// Cobra exits non-zero on failure.
	cmd.Execute()
}
