package output

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/mattn/go-isatty"
)

// writerIsTTY reports whether w is a terminal. Writers without an Fd, such
// as *bytes.Buffer, are not.
func writerIsTTY(w io.Writer) bool {
	type fder interface {
		Fd() uintptr
	}
	if f, ok := w.(fder); ok {
		return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
	}
	return false
}

// DomainProgress shows how far a multi-domain run has got:
//
//	[==========>         ] 2/4 vm2
//
// On a terminal the line is redrawn in place. Elsewhere one line is printed
// per domain so logs stay readable.
type DomainProgress struct {
	mu      sync.Mutex
	w       io.Writer
	total   int
	current int
	label   string
	width   int
}

// NewDomainProgress creates a progress line for total domains on stderr.
func NewDomainProgress(total int) *DomainProgress {
	return &DomainProgress{total: total, width: 20, w: os.Stderr}
}

// SetWriter redirects output.
func (p *DomainProgress) SetWriter(w io.Writer) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.w = w
}

// Begin announces that work on domain has started.
func (p *DomainProgress) Begin(domain string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.label = domain
	p.draw(false)
}

// Done marks the current domain finished.
func (p *DomainProgress) Done() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.current < p.total {
		p.current++
	}
	p.draw(true)
}

// Finish ends the progress line.
func (p *DomainProgress) Finish() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if writerIsTTY(p.w) {
		fmt.Fprintln(p.w)
	}
}

// draw must be called with the lock held.
func (p *DomainProgress) draw(finished bool) {
	tty := writerIsTTY(p.w)
	if !tty && finished {
		return
	}

	filled := 0
	if p.total > 0 {
		filled = p.current * p.width / p.total
	}
	bar := strings.Repeat("=", filled)
	if filled < p.width {
		bar += ">" + strings.Repeat(" ", p.width-filled-1)
	}

	n := p.current
	if !finished {
		n++
	}
	line := fmt.Sprintf("[%s] %d/%d %s", bar, n, p.total, p.label)

	if tty {
		fmt.Fprintf(p.w, "\r\033[K%s", line)
		return
	}
	fmt.Fprintln(p.w, line)
}

// Spinner animates while a status query runs.
type Spinner struct {
	mu      sync.Mutex
	w       io.Writer
	message string
	frames  []string
	running bool
	started time.Time
	stop    chan struct{}
	stopped chan struct{}
}

// NewSpinner creates a spinner writing to stderr. It does nothing until
// Start is called.
func NewSpinner(message string) *Spinner {
	return &Spinner{
		w:       os.Stderr,
		message: message,
		frames:  []string{"|", "/", "-", "\\"},
	}
}

// SetWriter redirects output.
func (s *Spinner) SetWriter(w io.Writer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.w = w
}

// Start begins animating. On a non-terminal the message is printed once.
func (s *Spinner) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return
	}
	s.running = true
	s.started = time.Now()

	if !writerIsTTY(s.w) {
		fmt.Fprintf(s.w, "%s...\n", s.message)
		return
	}

	s.stop = make(chan struct{})
	s.stopped = make(chan struct{})
	go s.loop()
}

func (s *Spinner) loop() {
	defer close(s.stopped)

	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for i := 0; ; i++ {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.mu.Lock()
			elapsed := int(time.Since(s.started).Seconds())
			fmt.Fprintf(s.w, "\r%s  %s (%ds)", s.frames[i%len(s.frames)], s.message, elapsed)
			s.mu.Unlock()
		}
	}
}

// Stop halts the animation and clears the line.
func (s *Spinner) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	stop, stopped := s.stop, s.stopped
	s.mu.Unlock()

	if stop == nil {
		return
	}
	close(stop)
	<-stopped

	s.mu.Lock()
	fmt.Fprint(s.w, "\r\033[K")
	s.mu.Unlock()
}
