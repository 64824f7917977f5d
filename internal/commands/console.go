package commands

import (
	"bufio"
	"io"
	"os"
	"strings"

	"github.com/mattn/go-isatty"
	"github.com/peterh/liner"
)

// Console supplies input lines to a chat session
type Console interface {
	Prompt(p string) (string, error)
	Close() error
}

// NewConsole reads from a line editor with history when in is the
// terminal's stdin, and from a plain line reader otherwise.
func NewConsole(in io.Reader) Console {
	if f, ok := in.(*os.File); ok && f == os.Stdin && isatty.IsTerminal(f.Fd()) && liner.TerminalSupported() {
		lr := liner.NewLiner()
		lr.SetCtrlCAborts(true)
		return &lineEditor{State: lr}
	}
	return &lineReader{r: bufio.NewReader(in)}
}

type lineEditor struct {
	*liner.State
}

func (l *lineEditor) Prompt(p string) (string, error) {
	line, err := l.State.Prompt(p)
	if err == liner.ErrPromptAborted {
		return "", io.EOF
	}
	if err == nil && strings.TrimSpace(line) != "" {
		l.AppendHistory(line)
	}
	return line, err
}

// lineReader is used for pipes and files, where there is nothing to edit
type lineReader struct {
	r *bufio.Reader
}

func (l *lineReader) Prompt(string) (string, error) {
	line, err := l.r.ReadString('\n')
	if err == io.EOF && line != "" {
		err = nil
	}
	return strings.TrimRight(line, "\r\n"), err
}

func (l *lineReader) Close() error { return nil }
