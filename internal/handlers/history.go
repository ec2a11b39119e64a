package handlers

import (
	"net/http"
	"strconv"
)

// defaultHistoryLimit caps a query when the client does not name one.
const defaultHistoryLimit = 50

// QueryHistory returns recent command records for a target, oldest first.
//
// Query parameters:
//   - session: logical session to read. When absent, the target's current
//     session is used; a target with no current session reads the unassigned
//     bucket (records written before any session existed).
//   - limit: maximum number of records (default 50).
func QueryHistory(w http.ResponseWriter, r *http.Request) {
	id, ok := targetIDParam(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "Invalid target ID")
		return
	}

	sessionID, err := resolveSession(r, id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to resolve session")
		return
	}

	limit := defaultHistoryLimit
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "Invalid limit")
			return
		}
		limit = n
	}

	records, err := History.Query(id, sessionID, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to query history")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"session_id": sessionID,
		"records":    records,
	})
}

// resolveSession picks the session named in the request, falling back to the
// target's current session pointer.
func resolveSession(r *http.Request, targetID uint) (string, error) {
	if s := r.URL.Query().Get("session"); s != "" {
		return s, nil
	}
	sessionID, _, err := History.CurrentSession(targetID)
	return sessionID, err
}
