package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/coder/websocket"

	"github.com/shellpilot/shellpilot/internal/registry"
	"github.com/shellpilot/shellpilot/internal/sshconn"
	"github.com/shellpilot/shellpilot/internal/terminal"
)

// Package-level collaborators, set from main.go during init.
var (
	SSHMgr  *sshconn.Manager
	TermMgr *terminal.SessionManager
)

// WebSocket close codes for terminal setup failures.
const (
	closeTargetNotFound = 4004
	closeAuthFailed     = 4401
	closeAlreadyBound   = 4409
	closeInternal       = 4500
	closeUnreachable    = 4502
)

type termResizeMsg struct {
	Type string `json:"type"`
	Cols uint16 `json:"cols"`
	Rows uint16 `json:"rows"`
}

// TerminalWS handles WebSocket connections for interactive terminal
// sessions.
//
// Query parameters:
//   - session_id: (optional) reconnect to an existing detached session. If
//     omitted or the referenced session doesn't exist, a new session is
//     created and its scrollback replayed on reconnect.
//
// Every inbound binary frame is raw keystroke bytes; every outbound binary
// frame is raw shell output. Text frames carry resize control messages.
// Connection or auth failures close the socket with a descriptive code
// before any session starts; a mid-session stream fault tears down both
// ends.
func TerminalWS(w http.ResponseWriter, r *http.Request) {
	id, ok := targetIDParam(r)
	if !ok {
		http.Error(w, "Invalid target ID", http.StatusBadRequest)
		return
	}

	clientConn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		log.Printf("Failed to accept terminal websocket: %v", err)
		return
	}
	defer clientConn.CloseNow()

	ctx := r.Context()

	target, err := registry.Lookup(id)
	if err != nil {
		clientConn.Close(closeTargetNotFound, "Target not found")
		return
	}

	sshClient, err := SSHMgr.EnsureConnected(ctx, target)
	if err != nil {
		log.Printf("SSH connection failed for target %d: %v", id, err)
		var authErr *sshconn.AuthError
		if errors.As(err, &authErr) {
			clientConn.Close(closeAuthFailed, "SSH authentication failed")
		} else {
			clientConn.Close(closeUnreachable, "Target unreachable")
		}
		return
	}

	sessionID := r.URL.Query().Get("session_id")

	var ms *terminal.ManagedSession
	if sessionID != "" {
		ms = TermMgr.GetSession(sessionID)
		if ms != nil && ms.TargetID != id {
			ms = nil // wrong target
		}
		if ms != nil && ms.IsAttached() {
			clientConn.Close(closeAlreadyBound, "Session already attached")
			return
		}
	}

	if ms == nil {
		var createErr error
		ms, createErr = TermMgr.CreateSession(sshClient, id, "")
		if createErr != nil {
			log.Printf("Terminal session creation failed for target %d: %v", id, createErr)
			clientConn.Close(closeInternal, "Failed to start shell")
			return
		}
		log.Printf("Terminal session created: session=%s target=%d", ms.ID, id)
	} else {
		log.Printf("Terminal session reconnected: session=%s target=%d", ms.ID, id)
	}

	clientConn.SetReadLimit(1024 * 1024)

	// Send session ID to client so it can reconnect later
	sessionInfo, _ := json.Marshal(map[string]string{
		"type":       "session_info",
		"session_id": ms.ID,
	})
	if err := clientConn.Write(ctx, websocket.MessageText, sessionInfo); err != nil {
		return
	}

	relayCtx, relayCancel := context.WithCancel(ctx)
	defer relayCancel()

	// Attach and replay scrollback
	wsWriter := &wsOutputWriter{conn: clientConn, ctx: relayCtx}
	history := ms.Attach(wsWriter)
	defer func() {
		ms.Detach()
		log.Printf("Terminal session detached: session=%s target=%d", ms.ID, id)
	}()

	if len(history) > 0 {
		if err := clientConn.Write(ctx, websocket.MessageBinary, history); err != nil {
			return
		}
	}

	// Watch for shell termination
	go func() {
		select {
		case <-ms.Done():
			relayCancel()
		case <-relayCtx.Done():
		}
	}()

	limiter := terminal.NewRateLimiter(terminal.MessageRateLimit, terminal.MessageRateBurst)

	// Browser -> Shell stdin
	for {
		msgType, data, err := clientConn.Read(relayCtx)
		if err != nil {
			break
		}

		// Drop messages that exceed the allowed rate
		if !limiter.Allow() {
			continue
		}

		if msgType == websocket.MessageBinary {
			if len(data) > terminal.MaxInputMessageSize {
				log.Printf("Terminal input message too large: session=%s size=%d limit=%d",
					ms.ID, len(data), terminal.MaxInputMessageSize)
				continue
			}
			if _, err := ms.WriteInput(data); err != nil {
				break
			}
		} else {
			var msg termResizeMsg
			if err := json.Unmarshal(data, &msg); err != nil {
				continue
			}
			if msg.Type == "resize" && msg.Cols > 0 && msg.Rows > 0 {
				cols := msg.Cols
				rows := msg.Rows
				if cols > terminal.MaxTermCols {
					cols = terminal.MaxTermCols
				}
				if rows > terminal.MaxTermRows {
					rows = terminal.MaxTermRows
				}
				ms.Resize(cols, rows)
			}
		}
	}

	clientConn.Close(websocket.StatusNormalClosure, "")
}

// wsOutputWriter wraps a WebSocket connection to implement io.Writer.
type wsOutputWriter struct {
	conn *websocket.Conn
	ctx  context.Context
}

func (w *wsOutputWriter) Write(p []byte) (int, error) {
	if err := w.conn.Write(w.ctx, websocket.MessageBinary, p); err != nil {
		return 0, err
	}
	return len(p), nil
}
