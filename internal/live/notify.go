package live

import (
	"fmt"
	"io"
	"sync"
)

// WriterNotifier prints one line per notification, e.g. to a terminal.
type WriterNotifier struct {
	mu sync.Mutex
	w  io.Writer
}

func NewWriterNotifier(w io.Writer) *WriterNotifier {
	return &WriterNotifier{w: w}
}

func (p *WriterNotifier) Notify(n Notification) {
	p.mu.Lock()
	defer p.mu.Unlock()

	line := fmt.Sprintf("[%s] %s", n.Severity, n.Message)
	if n.Description != "" {
		line += " - " + n.Description
	}
	if n.Action != nil {
		line += fmt.Sprintf(" (%s: %s)", n.Action.Label, n.Action.Href)
	}
	fmt.Fprintln(p.w, line)
}
