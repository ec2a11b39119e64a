package advisor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// ErrUnparseable reports that the reasoning service replied but no
// well-formed suggestion object could be extracted from its response.
var ErrUnparseable = errors.New("advisor: unparseable response")

// DefaultTimeout bounds one reasoning-service call. When exceeded, callers
// fall back to the local heuristic.
const DefaultTimeout = 15 * time.Second

// Client talks to an OpenAI-compatible chat completions endpoint. The
// service is a black box here: it takes a rendered text prompt and returns
// free text expected to contain a JSON object.
type Client struct {
	BaseURL string
	APIKey  string
	Model   string

	httpClient *http.Client
}

// NewClient creates a Client with the given endpoint and request timeout.
func NewClient(baseURL, apiKey, model string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		APIKey:     apiKey,
		Model:      model,
		httpClient: &http.Client{Timeout: timeout},
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// Complete sends the prompt and returns the raw completion text.
func (c *Client) Complete(ctx context.Context, prompt string) (string, error) {
	if c.BaseURL == "" {
		return "", errors.New("advisor: no endpoint configured")
	}

	body, err := json.Marshal(chatRequest{
		Model: c.Model,
		Messages: []chatMessage{
			{Role: "system", Content: "You are an expert shell operator assisting with a live terminal session."},
			{Role: "user", Content: prompt},
		},
		Temperature: 0.2,
	})
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.BaseURL+"/v1/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.APIKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("advisor request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", fmt.Errorf("advisor: HTTP %d: %s", resp.StatusCode, string(respBody))
	}

	var parsed chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return "", fmt.Errorf("advisor: empty response")
	}
	return parsed.Choices[0].Message.Content, nil
}

// modelReply is the JSON object the reasoning service is asked to produce.
// Field aliases cover the spellings different models actually emit.
type modelReply struct {
	Answer       string   `json:"answer"`
	NextCommand  string   `json:"nextCommand"`
	Commands     []string `json:"commands"`
	Alternatives []string `json:"alternatives"`
	Explanations []string `json:"explanations"`
}

// ParseReply extracts the first well-formed top-level JSON object from free
// text, tolerating prose and code-fence wrapping, and maps it into a
// Suggestion. Returns ErrUnparseable when no usable object is present.
func ParseReply(text string) (Suggestion, error) {
	obj, ok := extractJSONObject(text)
	if !ok {
		return Suggestion{}, ErrUnparseable
	}

	var reply modelReply
	if err := json.Unmarshal([]byte(obj), &reply); err != nil {
		return Suggestion{}, fmt.Errorf("%w: %v", ErrUnparseable, err)
	}

	next := reply.NextCommand
	if next == "" {
		next = reply.Answer
	}
	alternatives := reply.Alternatives
	if len(alternatives) == 0 {
		alternatives = reply.Commands
	}
	if next == "" && len(alternatives) > 0 {
		next = alternatives[0]
		alternatives = alternatives[1:]
	}
	if next == "" {
		return Suggestion{}, ErrUnparseable
	}

	return Suggestion{
		NextCommand:  next,
		Alternatives: alternatives,
		Rationale:    strings.Join(reply.Explanations, " "),
		Source:       SourceModel,
	}, nil
}

// extractJSONObject scans text for the first balanced top-level {...} block,
// skipping braces inside JSON strings. Code fences and surrounding prose are
// ignored naturally because scanning starts at the first '{'.
func extractJSONObject(text string) (string, bool) {
	for start := 0; start < len(text); start++ {
		if text[start] != '{' {
			continue
		}
		depth := 0
		inString := false
		escaped := false
		for i := start; i < len(text); i++ {
			c := text[i]
			if inString {
				switch {
				case escaped:
					escaped = false
				case c == '\\':
					escaped = true
				case c == '"':
					inString = false
				}
				continue
			}
			switch c {
			case '"':
				inString = true
			case '{':
				depth++
			case '}':
				depth--
				if depth == 0 {
					candidate := text[start : i+1]
					if json.Valid([]byte(candidate)) {
						return candidate, true
					}
					// Malformed block; resume scanning after it.
					start = i
					i = len(text)
				}
			}
		}
	}
	return "", false
}
