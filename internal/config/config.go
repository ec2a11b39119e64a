package config

import (
	"log"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Settings struct {
	DataPath     string `envconfig:"DATA_PATH" default:"./data"`
	DatabasePath string `envconfig:"DATABASE_PATH" default:"./data/shellpilot.db"`
	LogPath      string `envconfig:"LOG_PATH" default:""`
	ListenAddr   string `envconfig:"LISTEN_ADDR" default:":8000"`

	// Terminal session settings
	TerminalScrollback  int    `envconfig:"TERMINAL_SCROLLBACK" default:"1048576"`
	TerminalIdleTimeout string `envconfig:"TERMINAL_IDLE_TIMEOUT" default:"30m"`

	// Command boundary detection
	PromptPatternsFile string `envconfig:"PROMPT_PATTERNS_FILE" default:""`

	// Context window limits
	ContextMaxRecords   int `envconfig:"CONTEXT_MAX_RECORDS" default:"10"`
	ContextMaxOutputLen int `envconfig:"CONTEXT_MAX_OUTPUT_LEN" default:"2000"`

	// Suggestion advisor settings
	AdvisorURL     string `envconfig:"ADVISOR_URL" default:""`
	AdvisorAPIKey  string `envconfig:"ADVISOR_API_KEY" default:""`
	AdvisorModel   string `envconfig:"ADVISOR_MODEL" default:"gpt-4o-mini"`
	AdvisorTimeout string `envconfig:"ADVISOR_TIMEOUT" default:"15s"`
	SuggestionTTL  string `envconfig:"SUGGESTION_TTL" default:"5m"`
}

var Cfg Settings

func Load() {
	if err := envconfig.Process("SHELLPILOT", &Cfg); err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
}

// ParseDurationOr parses s as a duration, falling back to def when s is
// empty or malformed.
func ParseDurationOr(s string, def time.Duration) time.Duration {
	if s == "" {
		return def
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return def
	}
	return d
}
