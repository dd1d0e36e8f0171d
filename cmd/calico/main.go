// cmd/calico/main.go
//
// Calico CLI - interactive shell for Calico key-value databases.
//
// Usage:
//
//	calico [database-file]
//
// If no database file is specified, a temp file under the OS temp
// directory is used. Enter ".help" for available commands.
package main

import (
	"fmt"
	"os"

	"calico/internal/cli"
)

func main() {
	dbPath := ""
	if len(os.Args) > 1 {
		dbPath = os.Args[1]
	}

	repl, err := cli.NewREPL(dbPath, os.Stdin, os.Stdout, os.Stderr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening database: %v\n", err)
		os.Exit(1)
	}
	defer repl.Close()

	repl.Run()
}
