// The main package for the webspider executable.
package main

import (
	"github.com/JakeFAU/webspider/cmd"
)

// main defers all execution to the Cobra CLI.
func main() {
	cmd.Execute()
}
