package terminal

import (
	"fmt"
	"io"
	"log"
	"regexp"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/ssh"

	"github.com/shellpilot/shellpilot/internal/detector"
)

// SessionState represents the lifecycle state of a managed terminal session.
type SessionState string

const (
	// SessionActive means the SSH session is alive and a WebSocket is connected.
	SessionActive SessionState = "active"
	// SessionDetached means the SSH session is alive but no WebSocket is attached.
	SessionDetached SessionState = "detached"
	// SessionClosed means the SSH session has ended.
	SessionClosed SessionState = "closed"
)

// outboundQueueLen bounds the per-attachment output queue. When the client
// cannot keep up, the oldest chunks are dropped rather than stalling the
// shell relay or growing without bound.
const outboundQueueLen = 256

// DefaultIdleTimeout is how long a detached session stays alive before
// cleanup removes it.
const DefaultIdleTimeout = 30 * time.Minute

// attachment is one live client hookup: a bounded queue drained into the
// client writer by a dedicated goroutine.
type attachment struct {
	ch   chan []byte
	stop chan struct{}
}

// ManagedSession is one live bridged shell connection. It survives client
// disconnects: while detached, output keeps flowing into the scrollback
// buffer and the boundary detector, and a reconnecting client replays the
// scrollback to catch up.
type ManagedSession struct {
	// ID is a unique identifier for this session (UUID).
	ID string
	// TargetID is the database ID of the target this session belongs to.
	TargetID uint
	// Shell is the shell command used for this session.
	Shell string
	// CreatedAt is when the session was created.
	CreatedAt time.Time

	// Terminal is the underlying SSH terminal session.
	Terminal *TerminalSession
	// Scrollback stores terminal output for replay on reconnection.
	Scrollback *ScrollbackBuffer
	// Detector taps both stream directions for command boundaries.
	Detector *detector.Detector

	mu           sync.Mutex
	state        SessionState
	lastActivity time.Time
	attached     *attachment
	// done is closed when the shell output relay exits.
	done chan struct{}
}

// State returns the current session state.
func (ms *ManagedSession) State() SessionState {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	return ms.state
}

// LastActivity returns the time of the last state change.
func (ms *ManagedSession) LastActivity() time.Time {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	return ms.lastActivity
}

// IsAttached reports whether a client is currently attached.
func (ms *ManagedSession) IsAttached() bool {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	return ms.attached != nil
}

// Done returns a channel closed when the shell output relay exits.
func (ms *ManagedSession) Done() <-chan struct{} {
	return ms.done
}

// Attach hooks a client writer to the session and returns the scrollback
// snapshot to replay. Any previous attachment is dropped first. Output
// produced after the snapshot flows through a bounded queue; when the writer
// falls behind, the oldest chunks are discarded.
func (ms *ManagedSession) Attach(w io.Writer) []byte {
	ms.mu.Lock()
	if ms.attached != nil {
		close(ms.attached.stop)
	}
	att := &attachment{
		ch:   make(chan []byte, outboundQueueLen),
		stop: make(chan struct{}),
	}
	ms.attached = att
	ms.state = SessionActive
	ms.lastActivity = time.Now()
	ms.mu.Unlock()

	go func() {
		for {
			select {
			case <-att.stop:
				return
			case data := <-att.ch:
				if _, err := w.Write(data); err != nil {
					return
				}
			}
		}
	}()

	return ms.Scrollback.Snapshot()
}

// Detach unhooks the current client. The session stays alive and keeps
// buffering output.
func (ms *ManagedSession) Detach() {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	if ms.attached != nil {
		close(ms.attached.stop)
		ms.attached = nil
	}
	if ms.state == SessionActive {
		ms.state = SessionDetached
	}
	ms.lastActivity = time.Now()
}

// WriteInput forwards client keystrokes to the shell and feeds the typed-side
// tap of the boundary detector.
func (ms *ManagedSession) WriteInput(p []byte) (int, error) {
	n, err := ms.Terminal.Stdin.Write(p)
	if n > 0 {
		ms.Detector.FeedInput(p[:n])
	}
	return n, err
}

// Resize changes the PTY dimensions.
func (ms *ManagedSession) Resize(cols, rows uint16) error {
	return ms.Terminal.Resize(cols, rows)
}

// Close terminates the session. It is idempotent and safe to call
// concurrently with in-flight reads and writes.
func (ms *ManagedSession) Close() {
	ms.mu.Lock()
	if ms.state == SessionClosed {
		ms.mu.Unlock()
		return
	}
	ms.state = SessionClosed
	ms.lastActivity = time.Now()
	if ms.attached != nil {
		close(ms.attached.stop)
		ms.attached = nil
	}
	ms.mu.Unlock()

	ms.Terminal.Close()
	ms.Scrollback.Close()
	ms.Detector.Close()
}

// enqueueOutput pushes a chunk to the attached client, dropping the oldest
// queued chunk when the queue is full.
func (ms *ManagedSession) enqueueOutput(data []byte) {
	ms.mu.Lock()
	att := ms.attached
	ms.mu.Unlock()
	if att == nil {
		return
	}
	for {
		select {
		case att.ch <- data:
			return
		default:
			select {
			case <-att.ch:
			default:
			}
		}
	}
}

// RecordSink receives each completed (command, output) record detected on a
// target's stream. Failures inside the sink must not propagate; the
// interactive path never depends on the history side effect.
type RecordSink func(targetID uint, rec detector.Record)

// SessionManager tracks all live terminal sessions across all targets.
type SessionManager struct {
	mu       sync.RWMutex
	sessions map[string]*ManagedSession // session ID → session

	// ScrollbackSize is the max scrollback buffer size for new sessions.
	ScrollbackSize int
	// IdleTimeout is how long a detached session stays alive before cleanup.
	// Zero means no automatic cleanup.
	IdleTimeout time.Duration

	patterns []*regexp.Regexp
	sink     RecordSink
}

// NewSessionManager creates a SessionManager. patterns is the compiled
// prompt table shared by all sessions; sink receives detected command
// records and may be nil.
func NewSessionManager(patterns []*regexp.Regexp, sink RecordSink) *SessionManager {
	return &SessionManager{
		sessions:       make(map[string]*ManagedSession),
		ScrollbackSize: defaultScrollbackSize,
		IdleTimeout:    DefaultIdleTimeout,
		patterns:       patterns,
		sink:           sink,
	}
}

// CreateSession starts a new shell on the given SSH client and begins
// relaying its output into the scrollback buffer and the boundary detector.
func (sm *SessionManager) CreateSession(sshClient *ssh.Client, targetID uint, shell string) (*ManagedSession, error) {
	term, err := CreateInteractiveSession(sshClient, shell)
	if err != nil {
		return nil, fmt.Errorf("create terminal session: %w", err)
	}

	if shell == "" {
		shell = DefaultShell
	}

	ms := &ManagedSession{
		ID:           uuid.New().String(),
		TargetID:     targetID,
		Shell:        shell,
		CreatedAt:    time.Now(),
		Terminal:     term,
		Scrollback:   NewScrollbackBuffer(sm.ScrollbackSize),
		state:        SessionActive,
		lastActivity: time.Now(),
		done:         make(chan struct{}),
	}
	ms.Detector = detector.New(sm.patterns, func(rec detector.Record) {
		if sm.sink != nil {
			sm.sink(targetID, rec)
		}
	})

	go sm.relayOutput(ms)

	sm.mu.Lock()
	sm.sessions[ms.ID] = ms
	sm.mu.Unlock()

	log.Printf("[session-mgr] created session %s for target %d (shell %s)", ms.ID, targetID, shell)
	return ms, nil
}

// relayOutput reads shell stdout and fans it out: scrollback buffer,
// boundary detector, and the attached client's bounded queue. It runs for
// the lifetime of the SSH session regardless of client connections.
func (sm *SessionManager) relayOutput(ms *ManagedSession) {
	defer close(ms.done)
	buf := make([]byte, 32*1024)
	for {
		n, err := ms.Terminal.Stdout.Read(buf)
		if n > 0 {
			data := make([]byte, n)
			copy(data, buf[:n])
			ms.Scrollback.Write(data)
			ms.Detector.FeedOutput(data)
			ms.enqueueOutput(data)
		}
		if err != nil {
			log.Printf("[session-mgr] session %s output ended: %v", ms.ID, err)
			ms.Close()
			return
		}
	}
}

// GetSession returns a managed session by ID, or nil if not found.
func (sm *SessionManager) GetSession(sessionID string) *ManagedSession {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return sm.sessions[sessionID]
}

// ListSessions returns all non-closed sessions for a target.
func (sm *SessionManager) ListSessions(targetID uint) []*ManagedSession {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	var result []*ManagedSession
	for _, ms := range sm.sessions {
		if ms.TargetID != targetID || ms.State() == SessionClosed {
			continue
		}
		result = append(result, ms)
	}
	return result
}

// CloseSession closes a specific session by ID.
func (sm *SessionManager) CloseSession(sessionID string) error {
	sm.mu.Lock()
	ms, ok := sm.sessions[sessionID]
	sm.mu.Unlock()

	if !ok {
		return fmt.Errorf("session %q not found", sessionID)
	}

	ms.Close()
	log.Printf("[session-mgr] closed session %s", sessionID)
	return nil
}

// CloseAllForTarget closes every session for a target.
func (sm *SessionManager) CloseAllForTarget(targetID uint) {
	sm.mu.RLock()
	var toClose []*ManagedSession
	for _, ms := range sm.sessions {
		if ms.TargetID == targetID {
			toClose = append(toClose, ms)
		}
	}
	sm.mu.RUnlock()

	for _, ms := range toClose {
		ms.Close()
	}
}

// CleanupIdle closes detached sessions idle longer than IdleTimeout and
// drops closed sessions from the map. Called periodically.
func (sm *SessionManager) CleanupIdle() int {
	if sm.IdleTimeout <= 0 {
		return 0
	}

	cutoff := time.Now().Add(-sm.IdleTimeout)

	sm.mu.RLock()
	var toClean []*ManagedSession
	for _, ms := range sm.sessions {
		if ms.State() == SessionDetached && ms.LastActivity().Before(cutoff) {
			toClean = append(toClean, ms)
		}
	}
	sm.mu.RUnlock()

	for _, ms := range toClean {
		log.Printf("[session-mgr] cleaning up idle session %s (detached since %s)",
			ms.ID, ms.LastActivity().Format(time.RFC3339))
		ms.Close()
		sm.mu.Lock()
		delete(sm.sessions, ms.ID)
		sm.mu.Unlock()
	}

	sm.mu.Lock()
	for id, ms := range sm.sessions {
		if ms.State() == SessionClosed && ms.LastActivity().Before(cutoff) {
			delete(sm.sessions, id)
		}
	}
	sm.mu.Unlock()

	return len(toClean)
}

// Stop closes every tracked session.
func (sm *SessionManager) Stop() {
	sm.mu.Lock()
	sessions := make([]*ManagedSession, 0, len(sm.sessions))
	for _, ms := range sm.sessions {
		sessions = append(sessions, ms)
	}
	sm.mu.Unlock()

	for _, ms := range sessions {
		ms.Close()
	}
}

// SessionCount returns the total number of tracked sessions.
func (sm *SessionManager) SessionCount() int {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return len(sm.sessions)
}
