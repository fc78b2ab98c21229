// pydeps - static dependency graph extractor for Python projects.
//
// pydeps indexes a Python codebase into a graph of inherits, calls and
// imports edges between modules, classes and functions, and answers
// dependency queries from the CLI or over MCP.
package main

import (
	"fmt"
	"os"

	"github.com/Benny93/pydeps-go/cmd"
)

func main() {
	cli := cmd.NewCLI()

	if err := cli.Execute(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
