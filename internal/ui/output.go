// Package ui holds the output adapters front-ends hand to the dispatcher.
package ui

import (
	"fmt"
	"io"
	"strings"
	"sync"
)

// Output receives text produced while handling a command.
type Output interface {
	AppendOutput(text string)
}

// Console writes output to a terminal or any other writer, one line per call.
type Console struct {
	mu sync.Mutex
	w  io.Writer
}

// NewConsole creates a new Console writing output lines to w.
func NewConsole(w io.Writer) *Console {
	return &Console{w: w}
}

func (c *Console) AppendOutput(text string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintln(c.w, strings.TrimRight(text, "\n"))
}

// Buffer accumulates output in memory. The zero value is ready to use.
type Buffer struct {
	mu    sync.Mutex
	lines []string
}

func (b *Buffer) AppendOutput(text string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.lines = append(b.lines, strings.TrimRight(text, "\n"))
}

// Lines returns a copy of everything appended so far.
func (b *Buffer) Lines() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.lines...)
}

// String joins all lines with newlines.
func (b *Buffer) String() string {
	return strings.Join(b.Lines(), "\n")
}

// Reset drops all buffered lines and returns them.
func (b *Buffer) Reset() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	lines := b.lines
	b.lines = nil
	return lines
}
