// Package terminal provides interactive PTY shell sessions over SSH with
// session management, scrollback replay for reconnecting clients, and a
// command-boundary tap feeding the history pipeline.
package terminal

import (
	"fmt"
	"io"

	"golang.org/x/crypto/ssh"
)

// DefaultShell is started when no shell is requested.
const DefaultShell = "/bin/bash"

// Default PTY geometry requested at session start; clients adjust it with a
// resize as soon as they know their real dimensions.
const (
	defaultPtyRows = 24
	defaultPtyCols = 80
)

// TerminalSession wraps an SSH session with PTY support for interactive
// shell access.
type TerminalSession struct {
	Stdin   io.WriteCloser
	Stdout  io.Reader
	Session *ssh.Session
}

// Resize changes the terminal dimensions of the PTY.
func (ts *TerminalSession) Resize(cols, rows uint16) error {
	return ts.Session.WindowChange(int(rows), int(cols))
}

// Close terminates the SSH session and releases resources.
func (ts *TerminalSession) Close() error {
	return ts.Session.Close()
}

// CreateInteractiveSession opens a new SSH session with a PTY and starts the
// specified shell. If shell is empty, it defaults to DefaultShell. The shell
// must pass ValidateShell; otherwise an error is returned to prevent command
// injection.
func CreateInteractiveSession(client *ssh.Client, shell string) (*TerminalSession, error) {
	if err := ValidateShell(shell); err != nil {
		return nil, fmt.Errorf("validate shell: %w", err)
	}
	if shell == "" {
		shell = DefaultShell
	}

	session, err := client.NewSession()
	if err != nil {
		return nil, fmt.Errorf("create ssh session: %w", err)
	}

	modes := ssh.TerminalModes{
		ssh.ECHO:          1,
		ssh.TTY_OP_ISPEED: 14400,
		ssh.TTY_OP_OSPEED: 14400,
	}

	if err := session.RequestPty("xterm-256color", defaultPtyRows, defaultPtyCols, modes); err != nil {
		session.Close()
		return nil, fmt.Errorf("request pty: %w", err)
	}

	stdin, err := session.StdinPipe()
	if err != nil {
		session.Close()
		return nil, fmt.Errorf("stdin pipe: %w", err)
	}

	stdout, err := session.StdoutPipe()
	if err != nil {
		session.Close()
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}

	if err := session.Start(shell); err != nil {
		session.Close()
		return nil, fmt.Errorf("start shell %q: %w", shell, err)
	}

	return &TerminalSession{
		Stdin:   stdin,
		Stdout:  stdout,
		Session: session,
	}, nil
}
