// Package contextwin prepares bounded history slices for the suggestion
// advisor.
package contextwin

import (
	"github.com/shellpilot/shellpilot/internal/history"
)

// TruncationMarker is appended to outputs cut at the length bound.
const TruncationMarker = "\n... [output truncated]"

// Record is one (command, output) pair inside a window.
type Record struct {
	Command string `json:"command"`
	Output  string `json:"output"`
}

// Window is an ordered, oldest-first slice of recent history for one
// (target, session) pair. It is derived state, never persisted.
type Window struct {
	Records []Record `json:"records"`
}

// Build pulls the most recent maxRecords for the pair from the store and
// truncates each output to maxOutputLen. Empty history yields an empty
// window, not an error. The call has no side effects.
func Build(store *history.Store, targetID uint, sessionID string, maxRecords, maxOutputLen int) (Window, error) {
	records, err := store.Query(targetID, sessionID, maxRecords)
	if err != nil {
		return Window{}, err
	}

	win := Window{Records: make([]Record, 0, len(records))}
	for _, rec := range records {
		out := rec.Output
		if maxOutputLen > 0 && len(out) > maxOutputLen {
			out = out[:maxOutputLen] + TruncationMarker
		}
		win.Records = append(win.Records, Record{
			Command: rec.Command,
			Output:  out,
		})
	}
	return win, nil
}
