// Package cli implements the interactive command shell for cmd/calico.
package cli

import (
	"bufio"
	"io"
	"strings"
)

// Shell provides readline-like line input with a prompt and command
// history for the Calico REPL. Unlike a SQL shell, every Calico command
// is exactly one line, so there is no multi-line statement assembly.
type Shell struct {
	reader *bufio.Reader
	output io.Writer

	prompt string

	history      []string
	historyIndex int
	maxHistory   int
}

// NewShell creates an interactive shell reading from input and writing
// prompts to output.
func NewShell(input io.Reader, output io.Writer) *Shell {
	var reader *bufio.Reader
	if input != nil {
		reader = bufio.NewReader(input)
	}
	return &Shell{
		reader:     reader,
		output:     output,
		prompt:     "calico> ",
		history:    make([]string, 0),
		maxHistory: 1000,
	}
}

// SetPrompt changes the prompt string.
func (s *Shell) SetPrompt(prompt string) { s.prompt = prompt }

// ReadLine prints the prompt, reads one line, and strips trailing
// whitespace. It returns the line and whether EOF was reached.
func (s *Shell) ReadLine() (string, bool) {
	if s.output != nil {
		io.WriteString(s.output, s.prompt)
	}
	if s.reader == nil {
		return "", true
	}

	line, err := s.reader.ReadString('\n')
	line = strings.TrimRight(line, " \t\r\n")
	if err != nil {
		return line, true
	}

	trimmed := strings.TrimSpace(line)
	if trimmed != "" {
		s.addHistory(trimmed)
	}
	return line, false
}

func (s *Shell) addHistory(cmd string) {
	if len(s.history) > 0 && s.history[len(s.history)-1] == cmd {
		return
	}
	s.history = append(s.history, cmd)
	if len(s.history) > s.maxHistory {
		s.history = s.history[len(s.history)-s.maxHistory:]
	}
	s.historyIndex = len(s.history)
}

// History returns a copy of the command history.
func (s *Shell) History() []string {
	out := make([]string, len(s.history))
	copy(out, s.history)
	return out
}
