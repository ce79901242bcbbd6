package host

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/tidwall/pretty"

	"github.com/dshills/scriptbridge/internal/native"
)

// Console writes script output lines.
type Console struct {
	*native.Helper

	mu    sync.Mutex
	out   io.Writer
	lines int
	color bool
}

// NewConsole creates a console writing to out.
func NewConsole(out io.Writer) *Console {
	c := &Console{out: out}
	c.Helper = native.NewHelper("Console")

	c.RegisterMethod("log", native.NewFunc(func(_ native.Object, args []native.Value) (native.Value, error) {
		return native.Void(), c.write("", args)
	}, native.Returns(native.KindVoid), native.VariadicArgs()))
	c.RegisterMethod("warn", native.NewFunc(func(_ native.Object, args []native.Value) (native.Value, error) {
		return native.Void(), c.write("warn: ", args)
	}, native.Returns(native.KindVoid), native.VariadicArgs()))
	c.RegisterMethod("json", native.NewFunc(func(_ native.Object, args []native.Value) (native.Value, error) {
		return native.Void(), c.JSON(args[0].JSONText())
	}, native.Returns(native.KindVoid), native.Args(native.KindJSON)))
	c.RegisterProperty("lines", native.Proto(native.KindInt64),
		func() native.Value { return native.Int(int64(c.Lines())) }, nil)
	return c
}

// SetColor enables ANSI colors for JSON output.
func (c *Console) SetColor(color bool) {
	c.mu.Lock()
	c.color = color
	c.mu.Unlock()
}

// SetOutput replaces the writer and returns the previous one.
func (c *Console) SetOutput(out io.Writer) io.Writer {
	c.mu.Lock()
	defer c.mu.Unlock()
	prev := c.out
	c.out = out
	return prev
}

// Lines returns the number of lines written.
func (c *Console) Lines() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lines
}

// Println writes one line.
func (c *Console) Println(line string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lines++
	_, err := fmt.Fprintln(c.out, line)
	return err
}

// JSON writes indented JSON text.
func (c *Console) JSON(text string) error {
	out := pretty.Pretty([]byte(text))
	c.mu.Lock()
	color := c.color
	c.mu.Unlock()
	if color {
		out = pretty.Color(out, nil)
	}
	return c.Println(strings.TrimRight(string(out), "\n"))
}

func (c *Console) write(prefix string, args []native.Value) error {
	parts := make([]string, len(args))
	for i, v := range args {
		parts[i] = Format(v)
		v.Release()
	}
	return c.Println(prefix + strings.Join(parts, " "))
}
