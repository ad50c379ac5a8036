package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"

	"github.com/law-makers/racecrawl/internal/ui"
)

// prompter reads answers line by line from one shared reader, so the
// startup prompts and the challenge confirmation never lose buffered input.
type prompter struct {
	mu  sync.Mutex
	in  *bufio.Reader
	out io.Writer
}

func newPrompter(in io.Reader, out io.Writer) *prompter {
	return &prompter{in: bufio.NewReader(in), out: out}
}

func (p *prompter) readLine() (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	line, err := p.in.ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

// Ask prints label and returns the trimmed answer. EOF yields "".
func (p *prompter) Ask(label string) string {
	fmt.Fprintf(p.out, "%s ", label)
	line, err := p.readLine()
	if err != nil {
		fmt.Fprintln(p.out)
		return ""
	}
	return line
}

// AskInt asks for a number; an empty answer yields def.
func (p *prompter) AskInt(label string, def int) (int, error) {
	s := p.Ask(label)
	if s == "" {
		return def, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("%q is not a number", s)
	}
	return n, nil
}

// AwaitConfirmation shows prompt and blocks until a line is read or ctx ends.
func (p *prompter) AwaitConfirmation(ctx context.Context, prompt string) error {
	fmt.Fprintf(p.out, "\n%s\n%s\n", ui.Warn("⚠  Manual verification needed"), prompt)

	done := make(chan error, 1)
	go func() {
		_, err := p.readLine()
		done <- err
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-done:
		if err != nil && !errors.Is(err, io.EOF) {
			return fmt.Errorf("read confirmation: %w", err)
		}
		if errors.Is(err, io.EOF) {
			return errors.New("input closed before the challenge was confirmed")
		}
		fmt.Fprintln(p.out, ui.Success("✓ Continuing"))
		return nil
	}
}
