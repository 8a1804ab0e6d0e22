package main

import (
	"github.com/JakeFAU/restockwatch/cmd"
)

// main defers all execution to the Cobra CLI.
func main() {
	cmd.Execute()
}
