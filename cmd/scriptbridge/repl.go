package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"
)

const prompt = "> "

// repl reads lines from in and evaluates them until EOF. A terminal gets
// line editing and history.
func (s *session) repl(ctx context.Context, in *os.File, out *os.File) error {
	fd := int(in.Fd())
	if !term.IsTerminal(fd) {
		return s.replLines(ctx, in)
	}

	state, err := term.MakeRaw(fd)
	if err != nil {
		return fmt.Errorf("entering raw mode: %w", err)
	}
	defer func() { _ = term.Restore(fd, state) }()

	t := term.NewTerminal(struct {
		io.Reader
		io.Writer
	}{in, out}, prompt)
	if width, height, err := term.GetSize(fd); err == nil {
		_ = t.SetSize(width, height)
	}

	// Raw mode needs the terminal's newline translation.
	prev := s.host.Console.SetOutput(t)
	defer s.host.Console.SetOutput(prev)

	fmt.Fprintf(t, "scriptbridge %s, Ctrl-D to exit\r\n", version)
	for {
		line, err := t.ReadLine()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		if ctx.Err() != nil {
			return nil
		}
		if err := s.evalLine(ctx, line); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			fmt.Fprintf(t, "Error: %v\r\n", err)
		}
	}
}

// replLines evaluates one line at a time from a non-terminal reader.
func (s *session) replLines(ctx context.Context, in io.Reader) error {
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return nil
		}
		if err := s.evalLine(ctx, scanner.Text()); err != nil {
			reportError(err)
		}
	}
	return scanner.Err()
}

func (s *session) evalLine(ctx context.Context, line string) error {
	line = strings.TrimSpace(line)
	if line == "" {
		return nil
	}
	return s.evaluate(ctx, line)
}
