// Package detector infers command boundaries in a raw interactive shell
// stream.
//
// The shell byte stream carries no structure, so completed commands are
// recognized heuristically: client input up to a terminal newline forms a
// candidate command, and a later output line matching a known prompt pattern
// marks the command as finished. The bytes between candidate and prompt are
// the command's output. Detection is best-effort; a missed prompt only means
// a missing history record, never a stalled terminal, because the detector
// observes a tap of the stream rather than sitting in its path.
package detector

import (
	"regexp"
	"strings"
	"sync"
)

const (
	// defaultMaxOutput bounds the detector's retained copy of shell output.
	// When a command produces more without a prompt appearing, the oldest
	// bytes are dropped and the eventual record is truncated at the front.
	defaultMaxOutput = 256 * 1024

	// defaultMaxTyped bounds the retained copy of client keystrokes.
	defaultMaxTyped = 16 * 1024

	// maxPendingCandidates bounds the queue of submitted-but-unflushed
	// commands (e.g. several commands pasted before any prompt echoes).
	maxPendingCandidates = 32
)

// Record is one completed (command, output) pair emitted by the detector.
type Record struct {
	Command string
	Output  string
}

// Detector accumulates the two sides of a shell conversation and emits a
// Record whenever a prompt line closes out a pending candidate command.
//
// FeedInput and FeedOutput are called from the two bridge pumps; a single
// mutex keeps the check-and-emit step atomic with respect to Close.
type Detector struct {
	mu       sync.Mutex
	patterns []*regexp.Regexp

	typed      []byte   // keystrokes since the last terminal newline
	output     []byte   // shell output since the last emitted record
	candidates []string // submitted commands awaiting a prompt, oldest first
	closed     bool

	maxOutput int
	maxTyped  int

	emit func(Record)
}

// New creates a Detector over the given compiled prompt patterns. emit is
// called, under the detector's lock, once per completed command.
func New(patterns []*regexp.Regexp, emit func(Record)) *Detector {
	return &Detector{
		patterns:  patterns,
		maxOutput: defaultMaxOutput,
		maxTyped:  defaultMaxTyped,
		emit:      emit,
	}
}

// FeedInput consumes one frame of client keystrokes. A frame whose last byte
// is a newline completes the candidate: everything typed since the previous
// newline, trimmed, becomes one pending command. Embedded newlines inside a
// pasted frame stay part of the same candidate.
func (d *Detector) FeedInput(p []byte) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed || len(p) == 0 {
		return
	}

	for _, b := range p {
		switch b {
		case 0x7f, 0x08: // backspace
			if len(d.typed) > 0 {
				d.typed = d.typed[:len(d.typed)-1]
			}
		default:
			d.typed = append(d.typed, b)
		}
	}
	if len(d.typed) > d.maxTyped {
		d.typed = d.typed[len(d.typed)-d.maxTyped:]
	}

	last := p[len(p)-1]
	if last != '\r' && last != '\n' {
		return
	}

	candidate := strings.TrimSpace(stripANSI(string(d.typed)))
	d.typed = d.typed[:0]
	if candidate == "" {
		return // bare Enter never yields a record
	}
	if len(d.candidates) >= maxPendingCandidates {
		d.candidates = d.candidates[1:]
	}
	if len(d.candidates) == 0 {
		// First pending command: output captured so far (login banner,
		// previous prompt, typing echo) belongs to no command.
		d.output = d.output[:0]
	}
	d.candidates = append(d.candidates, candidate)
}

// FeedOutput consumes one chunk of shell output and tests the last (possibly
// partial) line of the retained buffer against the prompt table. On the first
// match with a pending candidate, a Record is emitted and both buffers reset.
func (d *Detector) FeedOutput(p []byte) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed || len(p) == 0 {
		return
	}

	d.output = append(d.output, p...)
	if len(d.output) > d.maxOutput {
		d.output = d.output[len(d.output)-d.maxOutput:]
	}

	if len(d.candidates) == 0 {
		return
	}

	lastLine := d.output
	body := []byte(nil)
	if i := strings.LastIndexByte(string(d.output), '\n'); i >= 0 {
		lastLine = d.output[i+1:]
		body = d.output[:i]
	}

	line := strings.TrimRight(stripANSI(string(lastLine)), " \t")
	if line == "" {
		return
	}

	for _, re := range d.patterns {
		if !re.MatchString(line) {
			continue
		}
		command := d.candidates[0]
		d.candidates = d.candidates[1:]
		rec := Record{
			Command: command,
			Output:  cleanOutput(body, command),
		}
		d.output = d.output[:0]
		if d.emit != nil {
			d.emit(rec)
		}
		return
	}
}

// PendingCandidates reports how many submitted commands are still awaiting
// a prompt.
func (d *Detector) PendingCandidates() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.candidates)
}

// Close stops the detector. Buffered but unflushed data is discarded;
// subsequent feeds are no-ops.
func (d *Detector) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	d.typed = nil
	d.output = nil
	d.candidates = nil
}

// cleanOutput strips the PTY's echo of the command itself from the head of
// the captured output and trims surrounding newlines.
func cleanOutput(body []byte, command string) string {
	s := strings.Trim(stripANSI(string(body)), "\r\n")
	if s == "" {
		return ""
	}
	first := s
	rest := ""
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		first = s[:i]
		rest = strings.Trim(s[i+1:], "\r\n")
	}
	firstTrim := strings.TrimRight(first, " \t\r")
	if firstTrim == command || strings.HasSuffix(firstTrim, command) {
		return rest
	}
	return s
}
