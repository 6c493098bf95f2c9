// The main package for the docverify executable.
package main

import (
	"github.com/JakeFAU/docverify/cmd"
)

// main defers all execution to the Cobra CLI.
func main() {
	cmd.Execute()
}
