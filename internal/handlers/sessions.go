package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/shellpilot/shellpilot/internal/history"
)

// History is set from main.go during init.
var History *history.Store

// ListTerminalSessions returns the live terminal sessions for a target.
func ListTerminalSessions(w http.ResponseWriter, r *http.Request) {
	id, ok := targetIDParam(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "Invalid target ID")
		return
	}

	sessions := TermMgr.ListSessions(id)

	type sessionResponse struct {
		ID        string `json:"id"`
		Shell     string `json:"shell"`
		Attached  bool   `json:"attached"`
		CreatedAt string `json:"created_at"`
	}

	resp := make([]sessionResponse, len(sessions))
	for i, s := range sessions {
		resp[i] = sessionResponse{
			ID:        s.ID,
			Shell:     s.Shell,
			Attached:  s.IsAttached(),
			CreatedAt: s.CreatedAt.UTC().Format("2006-01-02T15:04:05Z"),
		}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"sessions": resp,
	})
}

// CloseTerminalSession terminates a specific terminal session.
func CloseTerminalSession(w http.ResponseWriter, r *http.Request) {
	id, ok := targetIDParam(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "Invalid target ID")
		return
	}

	sessionID := chi.URLParam(r, "sessionId")
	if sessionID == "" {
		writeError(w, http.StatusBadRequest, "Session ID required")
		return
	}

	ms := TermMgr.GetSession(sessionID)
	if ms == nil || ms.TargetID != id {
		writeError(w, http.StatusNotFound, "Session not found")
		return
	}

	if err := TermMgr.CloseSession(sessionID); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to close session")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "closed"})
}

// GetCurrentSession returns the target's current logical session, or null
// when none has been set.
func GetCurrentSession(w http.ResponseWriter, r *http.Request) {
	id, ok := targetIDParam(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "Invalid target ID")
		return
	}

	sessionID, found, err := History.CurrentSession(id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to read current session")
		return
	}
	if !found {
		writeJSON(w, http.StatusOK, map[string]interface{}{"session_id": nil})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"session_id": sessionID})
}

type setSessionRequest struct {
	SessionID string `json:"session_id"`
}

// SetCurrentSession points the target at a logical session. An empty or
// missing session_id mints a fresh identifier. The operation is idempotent:
// repeating it with the same value changes nothing.
func SetCurrentSession(w http.ResponseWriter, r *http.Request) {
	id, ok := targetIDParam(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "Invalid target ID")
		return
	}

	var req setSessionRequest
	if r.Body != nil {
		json.NewDecoder(r.Body).Decode(&req) // empty body is fine
	}

	sessionID := req.SessionID
	if sessionID == "" {
		sessionID = history.NewSessionID()
	}

	if err := History.SetCurrentSession(id, sessionID); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to set current session")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"session_id": sessionID})
}
