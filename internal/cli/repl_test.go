package cli_test

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"

	"calico/internal/cli"
)

func newTestREPL(t *testing.T, script string) (*cli.REPL, *bytes.Buffer, *bytes.Buffer) {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.cal")
	var out, errOut bytes.Buffer
	r, err := cli.NewREPL(dbPath, strings.NewReader(script), &out, &errOut)
	if err != nil {
		t.Fatalf("new repl: %v", err)
	}
	t.Cleanup(func() { r.Close() })
	return r, &out, &errOut
}

func TestREPLPutGet(t *testing.T) {
	r, out, errOut := newTestREPL(t, "put a hello\nget a\n.exit\n")
	r.Run()

	if errOut.Len() != 0 {
		t.Fatalf("unexpected error output: %s", errOut.String())
	}
	if !strings.Contains(out.String(), "OK") {
		t.Fatalf("expected OK after put, got: %s", out.String())
	}
	if !strings.Contains(out.String(), "hello") {
		t.Fatalf("expected get to print value, got: %s", out.String())
	}
}

func TestREPLEraseAndMissingGet(t *testing.T) {
	r, out, errOut := newTestREPL(t, "put a 1\nerase a\nget a\n.exit\n")
	r.Run()

	if !strings.Contains(out.String(), "OK") {
		t.Fatalf("expected OK from put/erase, got: %s", out.String())
	}
	if !strings.Contains(errOut.String(), "Error:") {
		t.Fatalf("expected an error for the missing key, got: %s", errOut.String())
	}
}

func TestREPLScanReportsRowCount(t *testing.T) {
	r, out, _ := newTestREPL(t, "put a 1\nput b 2\nput c 3\nscan\n.exit\n")
	r.Run()

	if !strings.Contains(out.String(), "3 row(s)") {
		t.Fatalf("expected 3 rows from scan, got: %s", out.String())
	}
}

func TestREPLStatsPrintsKnownProperties(t *testing.T) {
	r, out, errOut := newTestREPL(t, "stats\n.exit\n")
	r.Run()

	if errOut.Len() != 0 {
		t.Fatalf("unexpected error output: %s", errOut.String())
	}
	for _, want := range []string{"page_size", "record_count", "cache_hit_ratio"} {
		if !strings.Contains(out.String(), want) {
			t.Fatalf("expected stats output to mention %q, got: %s", want, out.String())
		}
	}
}

func TestREPLUnknownCommandReportsError(t *testing.T) {
	r, _, errOut := newTestREPL(t, "bogus\n.exit\n")
	r.Run()

	if !strings.Contains(errOut.String(), "unknown command") {
		t.Fatalf("expected unknown-command error, got: %s", errOut.String())
	}
}

func TestREPLHelpDotCommand(t *testing.T) {
	r, out, _ := newTestREPL(t, ".help\n.exit\n")
	r.Run()

	if !strings.Contains(out.String(), "get <key>") {
		t.Fatalf("expected help text, got: %s", out.String())
	}
}
