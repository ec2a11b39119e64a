package sshconn

import (
	"fmt"
	"strings"
)

// AuthError reports an SSH authentication failure for a target. It is fatal
// to the session being opened; callers report it and do not retry.
type AuthError struct {
	Target string
	Err    error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("ssh auth failed for %s: %v", e.Target, e.Err)
}

func (e *AuthError) Unwrap() error { return e.Err }

// DialError reports a network-level failure reaching a target (unreachable
// host, connect timeout, reset during handshake).
type DialError struct {
	Target string
	Addr   string
	Err    error
}

func (e *DialError) Error() string {
	return fmt.Sprintf("ssh dial %s (%s): %v", e.Target, e.Addr, e.Err)
}

func (e *DialError) Unwrap() error { return e.Err }

// classifyDialErr wraps a raw ssh.Dial error into the matching typed error.
// The ssh package reports auth rejection only as a message string, so the
// classification is textual.
func classifyDialErr(target, addr string, err error) error {
	if strings.Contains(err.Error(), "unable to authenticate") ||
		strings.Contains(err.Error(), "no supported methods remain") {
		return &AuthError{Target: target, Err: err}
	}
	return &DialError{Target: target, Addr: addr, Err: err}
}
