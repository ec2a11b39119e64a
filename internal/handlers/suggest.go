package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/shellpilot/shellpilot/internal/advisor"
	"github.com/shellpilot/shellpilot/internal/contextwin"
)

// Advisor and the context window bounds are set from main.go during init.
var (
	Advisor             *advisor.Advisor
	ContextMaxRecords   = 10
	ContextMaxOutputLen = 2000
)

type suggestRequest struct {
	Session string `json:"session"`
}

// Suggest returns a next-command suggestion for a target's recent history.
// The advisor always produces a usable suggestion; only a storage failure
// while building the context window surfaces as an error.
func Suggest(w http.ResponseWriter, r *http.Request) {
	id, ok := targetIDParam(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "Invalid target ID")
		return
	}

	var req suggestRequest
	if r.Body != nil {
		json.NewDecoder(r.Body).Decode(&req) // empty body is fine
	}

	sessionID := req.Session
	if sessionID == "" {
		var err error
		sessionID, _, err = History.CurrentSession(id)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "Failed to resolve session")
			return
		}
	}

	win, err := contextwin.Build(History, id, sessionID, ContextMaxRecords, ContextMaxOutputLen)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to build context window")
		return
	}

	suggestion := Advisor.Suggest(r.Context(), win)
	writeJSON(w, http.StatusOK, suggestion)
}
