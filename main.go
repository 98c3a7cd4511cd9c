// The main package for the listkeeper executable.
package main

import (
	"github.com/listkeeper/listkeeper/cmd"
)

// main is the entry point of the application.
// It defers all execution to the Cobra CLI library.
func main() {
	cmd.Execute()
}
