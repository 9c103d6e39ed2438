package input

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"
)

// Prompter asks the operator for values.
type Prompter interface {
	Ask(label, def string) (string, error)
	AskSecret(label string) (string, error)
}

// TermPrompter reads answers line by line. Secrets are read without echo when
// In is a terminal.
type TermPrompter struct {
	In  io.Reader
	Out io.Writer

	r *bufio.Reader
}

// NewTermPrompter returns a prompter bound to stdin/stderr.
func NewTermPrompter() *TermPrompter {
	return &TermPrompter{In: os.Stdin, Out: os.Stderr}
}

// IsInteractive reports whether stdin is attached to a terminal.
func IsInteractive() bool {
	return term.IsTerminal(int(os.Stdin.Fd()))
}

func (p *TermPrompter) reader() *bufio.Reader {
	if p.r == nil {
		p.r = bufio.NewReader(p.In)
	}
	return p.r
}

func (p *TermPrompter) Ask(label, def string) (string, error) {
	if def != "" {
		fmt.Fprintf(p.Out, "%s [%s]: ", label, def)
	} else {
		fmt.Fprintf(p.Out, "%s: ", label)
	}
	return p.readLine()
}

func (p *TermPrompter) AskSecret(label string) (string, error) {
	fmt.Fprintf(p.Out, "%s: ", label)
	if f, ok := p.In.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		b, err := term.ReadPassword(int(f.Fd()))
		fmt.Fprintln(p.Out)
		if err != nil {
			return "", fmt.Errorf("read secret: %w", err)
		}
		return strings.TrimSpace(string(b)), nil
	}
	return p.readLine()
}

func (p *TermPrompter) readLine() (string, error) {
	line, err := p.reader().ReadString('\n')
	if err != nil && err != io.EOF {
		return "", fmt.Errorf("read answer: %w", err)
	}
	return strings.TrimSpace(line), nil
}
