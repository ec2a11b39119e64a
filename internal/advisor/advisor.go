// Package advisor turns recent command history into next-command
// suggestions.
//
// Suggestions come from an external reasoning service reached over HTTP.
// Results are cached by a fingerprint of the context window so an unchanged
// window never triggers a second call within the TTL, and concurrent
// requests for the same fingerprint share one in-flight call. Every failure
// mode of the service (unreachable, timeout, unparseable reply) degrades to
// a deterministic local heuristic; callers always receive a usable
// suggestion and never an error from the service itself.
package advisor

import (
	"context"
	"fmt"
	"log"
	"strings"

	"golang.org/x/sync/singleflight"

	"github.com/shellpilot/shellpilot/internal/contextwin"
)

// Suggestion sources.
const (
	SourceModel    = "model"
	SourceFallback = "fallback"
)

// Suggestion is the advisor's answer: the most likely next command, with
// alternatives and a short rationale when available.
type Suggestion struct {
	NextCommand  string   `json:"next_command"`
	Alternatives []string `json:"alternatives,omitempty"`
	Rationale    string   `json:"rationale,omitempty"`
	Source       string   `json:"source"`
}

// Advisor combines the reasoning-service client, the suggestion cache and
// the fallback heuristic behind one Suggest call. It is shared process-wide
// across all sessions.
type Advisor struct {
	client *Client
	cache  *Cache
	group  singleflight.Group
}

// New creates an Advisor. client may have an empty endpoint, in which case
// every suggestion comes from the fallback table.
func New(client *Client, cache *Cache) *Advisor {
	return &Advisor{client: client, cache: cache}
}

// Suggest returns a suggestion for the window. The result is cached by the
// window's fingerprint; concurrent calls for an identical fingerprint are
// collapsed into a single outstanding service call.
func (a *Advisor) Suggest(ctx context.Context, win contextwin.Window) Suggestion {
	fp := Fingerprint(win)

	if s, ok := a.cache.Get(fp); ok {
		return s
	}

	v, _, _ := a.group.Do(fp, func() (interface{}, error) {
		// Re-check under the flight: another caller may have populated
		// the cache while this one waited.
		if s, ok := a.cache.Get(fp); ok {
			return s, nil
		}
		s := a.consult(ctx, win)
		a.cache.Put(fp, s)
		return s, nil
	})
	return v.(Suggestion)
}

// consult performs one reasoning-service round trip, falling back to the
// heuristic table on any failure.
func (a *Advisor) consult(ctx context.Context, win contextwin.Window) Suggestion {
	reply, err := a.client.Complete(ctx, RenderPrompt(win))
	if err != nil {
		log.Printf("[advisor] service call failed, using fallback: %v", err)
		return Fallback(win)
	}

	s, err := ParseReply(reply)
	if err != nil {
		log.Printf("[advisor] could not parse reply, using fallback: %v", err)
		return Fallback(win)
	}
	return s
}

// RenderPrompt flattens a context window into the text prompt sent to the
// reasoning service.
func RenderPrompt(win contextwin.Window) string {
	var b strings.Builder
	b.WriteString("Below is the recent activity of an interactive shell session, oldest first.\n")
	b.WriteString("Suggest the most useful next command.\n")
	b.WriteString("Reply with a JSON object: {\"nextCommand\": string, \"alternatives\": [string], \"explanations\": [string]}.\n\n")
	for i, rec := range win.Records {
		fmt.Fprintf(&b, "### Command %d\n$ %s\n", i+1, rec.Command)
		if rec.Output != "" {
			fmt.Fprintf(&b, "%s\n", rec.Output)
		}
		b.WriteString("\n")
	}
	if len(win.Records) == 0 {
		b.WriteString("(no commands executed yet)\n")
	}
	return b.String()
}
