// Package cli holds the line prompts used by the interactive commands.
package cli

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"
)

// DoneWord ends a prompt loop.
const DoneWord = "done"

// ErrDone is returned by NextValue when the user types DoneWord or input ends.
var ErrDone = errors.New("input finished")

// Prompter reads one answer per line.
type Prompter struct {
	in  *bufio.Scanner
	out io.Writer
}

// NewPrompter reads answers from r and writes prompts to w.
func NewPrompter(r io.Reader, w io.Writer) *Prompter {
	return &Prompter{in: bufio.NewScanner(r), out: w}
}

// Ask prints label and returns the trimmed answer. io.EOF is returned once
// input is exhausted.
func (p *Prompter) Ask(label string) (string, error) {
	fmt.Fprint(p.out, label)
	if !p.in.Scan() {
		if err := p.in.Err(); err != nil {
			return "", fmt.Errorf("read answer: %w", err)
		}
		return "", io.EOF
	}
	return strings.TrimSpace(p.in.Text()), nil
}

// AskDefault is Ask with a value used for an empty answer.
func (p *Prompter) AskDefault(label, def string) (string, error) {
	if def != "" {
		label = fmt.Sprintf("%s[%s] ", label, def)
	}
	answer, err := p.Ask(label)
	if err != nil {
		return "", err
	}
	if answer == "" {
		return def, nil
	}
	return answer, nil
}

// NextValue asks until a non-empty answer arrives. DoneWord, in any case, and
// end of input both return ErrDone.
func (p *Prompter) NextValue(label string) (string, error) {
	for {
		answer, err := p.Ask(label)
		if errors.Is(err, io.EOF) {
			return "", ErrDone
		}
		if err != nil {
			return "", err
		}
		if strings.EqualFold(answer, DoneWord) {
			return "", ErrDone
		}
		if answer != "" {
			return answer, nil
		}
	}
}

// Confirm asks a yes/no question. Only "yes" or "y" count as yes.
func (p *Prompter) Confirm(label string) (bool, error) {
	answer, err := p.Ask(label)
	if errors.Is(err, io.EOF) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	switch strings.ToLower(answer) {
	case "yes", "y":
		return true, nil
	}
	return false, nil
}

// Printf writes to the prompt output.
func (p *Prompter) Printf(format string, args ...any) {
	fmt.Fprintf(p.out, format, args...)
}
