package logging_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"calico/internal/logging"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]logging.Level{
		"error": logging.LevelError,
		"warn":  logging.LevelWarn,
		"info":  logging.LevelInfo,
		"trace": logging.LevelTrace,
		"":      logging.Off,
		"bogus": logging.Off,
	}
	for in, want := range cases {
		if got := logging.ParseLevel(in); got != want {
			t.Fatalf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestParseTarget(t *testing.T) {
	cases := map[string]logging.Target{
		"stdout": logging.TargetStdout,
		"stderr": logging.TargetStderr,
		"file":   logging.TargetFile,
		"":       logging.TargetFile,
	}
	for in, want := range cases {
		if got := logging.ParseTarget(in); got != want {
			t.Fatalf("ParseTarget(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestFileTargetWritesAndRespectsLevel(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "calico.log")

	logger, err := logging.New(logging.Options{Level: logging.LevelWarn, Target: logging.TargetFile, Path: path})
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	logger.Tracef("should not appear")
	logger.Infof("should not appear either")
	logger.Warnf("warn line %d", 1)
	logger.Errorf("error line %d", 2)

	if err := logger.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	content := string(data)
	if strings.Contains(content, "should not appear") {
		t.Fatalf("level filtering failed, got: %s", content)
	}
	if !strings.Contains(content, "warn line 1") || !strings.Contains(content, "error line 2") {
		t.Fatalf("expected both warn and error lines, got: %s", content)
	}
}

func TestRotationCapsRetainedFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "calico.log")

	logger, err := logging.New(logging.Options{
		Level:       logging.LevelInfo,
		Target:      logging.TargetFile,
		Path:        path,
		MaxLogSize:  32,
		MaxLogFiles: 2,
	})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	defer logger.Close()

	for i := 0; i < 50; i++ {
		logger.Infof("line number %d padded for size", i)
	}

	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected current log file to exist: %v", err)
	}
	if _, err := os.Stat(path + ".3"); err == nil {
		t.Fatalf("expected rotation to cap at MaxLogFiles=2, found a .3 file")
	}
}

func TestNilLoggerIsSafeNoOp(t *testing.T) {
	var l *logging.Logger
	l.Infof("this must not panic")
}
