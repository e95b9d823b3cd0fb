package main

import (
	"github.com/JakeFAU/sitemirror/cmd"
)

// main defers all execution to the Cobra CLI.
func main() {
	cmd.Execute()
}
