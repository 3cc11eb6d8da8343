package shared

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
)

// Printer writes human-facing startup output (banner, config dumps) to one or
// more sinks. Structured logs go through LoggerAdapter instead.
type Printer struct {
	mu     sync.Mutex
	indStr string
	sinks  []io.Writer
}

func NewPrinter(indentString string, sinks ...io.Writer) (*Printer, error) {
	if len(sinks) == 0 {
		return nil, errors.New("no sink provided")
	}
	for _, sink := range sinks {
		if sink == nil {
			return nil, errors.New("a nil sink is given")
		}
	}
	return &Printer{indStr: indentString, sinks: sinks}, nil
}

// Section prints a title line followed by a blank line.
func (p *Printer) Section(title string) error {
	return p.emit(title + "\n\n")
}

// Block prints s with every line indented ind times and a trailing newline.
func (p *Printer) Block(s string, ind int) error {
	indent := strings.Repeat(p.indStr, ind)
	var b strings.Builder
	for line := range strings.SplitSeq(strings.TrimRight(s, "\n"), "\n") {
		if line != "" {
			b.WriteString(indent)
		}
		b.WriteString(line)
		b.WriteByte('\n')
	}
	return p.emit(b.String())
}

func (p *Printer) emit(out string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, sink := range p.sinks {
		if _, err := io.WriteString(sink, out); err != nil {
			return fmt.Errorf("writing to sink: %w", err)
		}
	}
	return nil
}

// KeyValues prints aligned "key: value" pairs in the given order.
func (p *Printer) KeyValues(ind int, pairs ...[2]string) error {
	width := 0
	for _, kv := range pairs {
		width = max(width, len(kv[0]))
	}
	var b strings.Builder
	for _, kv := range pairs {
		fmt.Fprintf(&b, "%-*s  %s\n", width+1, kv[0]+":", kv[1])
	}
	return p.Block(b.String(), ind)
}
