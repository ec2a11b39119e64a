package main

import (
	"context"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/robfig/cron/v3"

	"github.com/shellpilot/shellpilot/internal/advisor"
	"github.com/shellpilot/shellpilot/internal/config"
	"github.com/shellpilot/shellpilot/internal/database"
	"github.com/shellpilot/shellpilot/internal/detector"
	"github.com/shellpilot/shellpilot/internal/handlers"
	"github.com/shellpilot/shellpilot/internal/history"
	"github.com/shellpilot/shellpilot/internal/logging"
	"github.com/shellpilot/shellpilot/internal/sshconn"
	"github.com/shellpilot/shellpilot/internal/terminal"
)

func main() {
	config.Load()
	logging.Init()
	defer logging.Close()

	if err := database.Init(); err != nil {
		log.Fatalf("Database init: %v", err)
	}
	defer database.Close()

	store := history.NewStore(database.DB)
	handlers.History = store

	// Compile the prompt-pattern table, optionally extended from a YAML file
	patternTable := detector.DefaultPatterns
	if path := config.Cfg.PromptPatternsFile; path != "" {
		extended, err := detector.LoadPatternsFile(path)
		if err != nil {
			log.Fatalf("Prompt patterns: %v", err)
		}
		patternTable = extended
	}
	patterns, err := detector.CompilePatterns(patternTable)
	if err != nil {
		log.Fatalf("Prompt patterns: %v", err)
	}
	log.Printf("Prompt pattern table loaded (%d patterns)", len(patterns))

	sshMgr := sshconn.NewManager()
	handlers.SSHMgr = sshMgr

	// Detected commands land in the history store under the target's current
	// logical session. A failed append only costs the record, never the
	// interactive stream.
	sink := func(targetID uint, rec detector.Record) {
		sessionID, _, err := store.CurrentSession(targetID)
		if err != nil {
			log.Printf("[history] session lookup failed for target %d: %v", targetID, err)
			return
		}
		if _, err := store.Append(targetID, sessionID, rec.Command, rec.Output); err != nil {
			log.Printf("[history] append failed for target %d: %v", targetID, err)
		}
	}

	termMgr := terminal.NewSessionManager(patterns, sink)
	termMgr.ScrollbackSize = config.Cfg.TerminalScrollback
	termMgr.IdleTimeout = config.ParseDurationOr(config.Cfg.TerminalIdleTimeout, terminal.DefaultIdleTimeout)
	handlers.TermMgr = termMgr
	log.Printf("Terminal session manager initialized (scrollback=%d bytes, idle_timeout=%s)",
		termMgr.ScrollbackSize, termMgr.IdleTimeout)

	advisorClient := advisor.NewClient(
		config.Cfg.AdvisorURL,
		config.Cfg.AdvisorAPIKey,
		config.Cfg.AdvisorModel,
		config.ParseDurationOr(config.Cfg.AdvisorTimeout, advisor.DefaultTimeout),
	)
	cache := advisor.NewCache(config.ParseDurationOr(config.Cfg.SuggestionTTL, advisor.DefaultCacheTTL))
	handlers.Advisor = advisor.New(advisorClient, cache)
	handlers.ContextMaxRecords = config.Cfg.ContextMaxRecords
	handlers.ContextMaxOutputLen = config.Cfg.ContextMaxOutputLen
	if config.Cfg.AdvisorURL == "" {
		log.Printf("No advisor endpoint configured; suggestions use the local heuristic only")
	}

	// Periodic cleanup of idle detached terminal sessions
	scheduler := cron.New()
	if _, err := scheduler.AddFunc("@every 5m", func() {
		if n := termMgr.CleanupIdle(); n > 0 {
			log.Printf("Cleaned up %d idle terminal sessions", n)
		}
	}); err != nil {
		log.Fatalf("Cleanup schedule: %v", err)
	}
	scheduler.Start()

	r := chi.NewRouter()
	r.Use(chimw.Logger)
	r.Use(chimw.Recoverer)
	r.Use(chimw.RealIP)

	r.Get("/health", handlers.HealthCheck)

	r.Route("/api/v1", func(r chi.Router) {
		// Terminal WebSocket and live session management
		r.Get("/targets/{id}/terminal", handlers.TerminalWS)
		r.Get("/targets/{id}/terminal/sessions", handlers.ListTerminalSessions)
		r.Delete("/targets/{id}/terminal/sessions/{sessionId}", handlers.CloseTerminalSession)

		// Logical sessions and history
		r.Get("/targets/{id}/session", handlers.GetCurrentSession)
		r.Put("/targets/{id}/session", handlers.SetCurrentSession)
		r.Get("/targets/{id}/history", handlers.QueryHistory)

		// Suggestions
		r.Post("/targets/{id}/suggest", handlers.Suggest)
	})

	srv := &http.Server{
		Addr:    config.Cfg.ListenAddr,
		Handler: r,
	}

	sigCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		log.Printf("Server starting on %s", config.Cfg.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	<-sigCtx.Done()
	log.Println("Shutting down...")

	scheduler.Stop()
	termMgr.Stop()
	sshMgr.CloseAll()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("Shutdown error: %v", err)
	}
	log.Println("Server stopped")
}
