package cli

import (
	"fmt"
	"io"
	"os"
	"strings"

	"calico"
)

// REPL provides a read-eval-print loop for interactive key/value
// operations against a Calico database.
type REPL struct {
	db *calico.Engine

	shell *Shell

	output    io.Writer
	errOutput io.Writer

	running       bool
	exitRequested bool

	tmpPath string // non-empty when dbPath was auto-generated, removed on Close
}

// NewREPL opens dbPath (or a fresh temp file if empty) and wires up a
// shell reading from input.
func NewREPL(dbPath string, input io.Reader, output, errOutput io.Writer) (*REPL, error) {
	var tmpPath string
	if dbPath == "" {
		f, err := os.CreateTemp("", "calico-*.db")
		if err != nil {
			return nil, fmt.Errorf("create temp database: %w", err)
		}
		dbPath = f.Name()
		f.Close()
		tmpPath = dbPath
	}

	db, err := calico.Open(dbPath, calico.DefaultOptions())
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	return &REPL{
		db:        db,
		shell:     NewShell(input, output),
		output:    output,
		errOutput: errOutput,
		tmpPath:   tmpPath,
	}, nil
}

// Close closes the underlying database.
func (r *REPL) Close() error {
	if r.db == nil {
		return nil
	}
	err := r.db.Close()
	if r.tmpPath != "" {
		os.Remove(r.tmpPath)
	}
	return err
}

// Run reads and executes commands until EOF or .exit.
func (r *REPL) Run() {
	r.running = true
	r.exitRequested = false

	fmt.Fprintln(r.output, "Calico version 0.1.0")
	fmt.Fprintln(r.output, "Enter \".help\" for usage hints.")

	for r.running && !r.exitRequested {
		line, eof := r.shell.ReadLine()
		line = strings.TrimSpace(line)

		if line != "" {
			if strings.HasPrefix(line, ".") {
				r.handleDotCommand(line)
			} else if err := r.execute(line); err != nil {
				r.printError(err)
			}
		}

		if eof {
			fmt.Fprintln(r.output)
			break
		}
	}

	r.running = false
}

// execute dispatches one non-dot command line: get/put/erase/scan/stats.
func (r *REPL) execute(line string) error {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return nil
	}

	switch strings.ToLower(fields[0]) {
	case "get":
		return r.cmdGet(fields[1:])
	case "put":
		return r.cmdPut(fields[1:])
	case "erase", "delete", "del":
		return r.cmdErase(fields[1:])
	case "scan":
		return r.cmdScan(fields[1:])
	case "stats":
		return r.cmdStats()
	case "vacuum":
		return r.cmdVacuum()
	default:
		return fmt.Errorf("unknown command: %s (try .help)", fields[0])
	}
}

func (r *REPL) cmdGet(args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: get <key>")
	}
	v, err := r.db.Get([]byte(args[0]))
	if err != nil {
		return err
	}
	fmt.Fprintln(r.output, string(v))
	return nil
}

func (r *REPL) cmdPut(args []string) error {
	if len(args) != 2 {
		return fmt.Errorf("usage: put <key> <value>")
	}
	if err := r.db.Put([]byte(args[0]), []byte(args[1])); err != nil {
		return err
	}
	fmt.Fprintln(r.output, "OK")
	return nil
}

func (r *REPL) cmdErase(args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: erase <key>")
	}
	if err := r.db.Erase([]byte(args[0])); err != nil {
		return err
	}
	fmt.Fprintln(r.output, "OK")
	return nil
}

// cmdScan walks the whole keyspace, or from a given start key when one
// argument is given.
func (r *REPL) cmdScan(args []string) error {
	c, err := r.db.NewCursor()
	if err != nil {
		return err
	}
	defer c.Close()

	if len(args) == 1 {
		err = c.Seek([]byte(args[0]))
	} else {
		err = c.SeekFirst()
	}
	if err != nil {
		return err
	}

	n := 0
	for c.Valid() {
		key, err := c.Key()
		if err != nil {
			return err
		}
		val, err := c.Value()
		if err != nil {
			return err
		}
		fmt.Fprintf(r.output, "%s -> %s\n", key, val)
		n++
		if err := c.Next(); err != nil {
			return err
		}
	}
	fmt.Fprintf(r.output, "%d row(s)\n", n)
	return nil
}

func (r *REPL) cmdStats() error {
	names := []string{"page_size", "page_count", "record_count", "cache_hit_ratio", "dirty_page_count", "wal_segment_count"}
	for _, name := range names {
		v, err := r.db.GetProperty(name)
		if err != nil {
			return err
		}
		fmt.Fprintf(r.output, "%-20s %s\n", name, v)
	}
	return nil
}

func (r *REPL) cmdVacuum() error {
	if err := r.db.WithTxn(func(tx *calico.Txn) error {
		return tx.Vacuum()
	}); err != nil {
		return err
	}
	fmt.Fprintln(r.output, "OK")
	return nil
}

// handleDotCommand processes special dot commands.
func (r *REPL) handleDotCommand(cmd string) {
	parts := strings.Fields(cmd)
	if len(parts) == 0 {
		return
	}

	switch strings.ToLower(parts[0]) {
	case ".exit", ".quit":
		r.exitRequested = true
	case ".help":
		r.printHelp()
	default:
		fmt.Fprintf(r.errOutput, "Unknown command: %s\n", parts[0])
		fmt.Fprintln(r.errOutput, "Use \".help\" for usage hints.")
	}
}

func (r *REPL) printHelp() {
	help := `
get <key>              Look up a value
put <key> <value>      Insert or overwrite a key
erase <key>            Remove a key
scan [start]           Print every key/value from start (or the beginning)
stats                  Show engine diagnostic properties
vacuum                 Compact the on-disk file
.exit, .quit           Exit this program
.help                  Show this help message
`
	fmt.Fprintln(r.output, help)
}

func (r *REPL) printError(err error) {
	fmt.Fprintf(r.errOutput, "Error: %v\n", err)
}
