// Package history is the append-only store of completed shell commands.
//
// Records are grouped by logical session: a durable identifier that outlives
// any single terminal connection. Session identifiers are minted once, by
// NewSessionID, and treated as opaque everywhere after that; lookups compare
// them only by exact value. Records written before any session was assigned
// carry the empty identifier and stay in their own bucket, they are never
// folded into a named session.
package history

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/shellpilot/shellpilot/internal/database"
)

// Store provides append, query and current-session operations over the
// command history. Appends for the same target are serialized so record IDs
// follow submission order; different targets append without contention.
type Store struct {
	db *gorm.DB

	mu        sync.Mutex
	targetMus map[uint]*sync.Mutex
}

// NewStore creates a Store over the given database handle.
func NewStore(db *gorm.DB) *Store {
	return &Store{
		db:        db,
		targetMus: make(map[uint]*sync.Mutex),
	}
}

// NewSessionID mints a fresh opaque logical session identifier.
func NewSessionID() string {
	return uuid.New().String()
}

func (s *Store) targetMu(targetID uint) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	mu, ok := s.targetMus[targetID]
	if !ok {
		mu = &sync.Mutex{}
		s.targetMus[targetID] = mu
	}
	return mu
}

// Append stores one completed (command, output) pair and returns the new
// record's ID. It either succeeds or returns a storage error; it never drops
// a record silently.
func (s *Store) Append(targetID uint, sessionID, command, output string) (uint, error) {
	mu := s.targetMu(targetID)
	mu.Lock()
	defer mu.Unlock()

	rec := database.CommandRecord{
		TargetID:  targetID,
		SessionID: sessionID,
		Command:   command,
		Output:    output,
	}
	if err := s.db.Create(&rec).Error; err != nil {
		return 0, fmt.Errorf("append command record: %w", err)
	}
	return rec.ID, nil
}

// Query returns up to limit records for the (target, session) pair in
// creation order, most recent last. Session matching is exact value equality;
// no substring or format heuristics.
func (s *Store) Query(targetID uint, sessionID string, limit int) ([]database.CommandRecord, error) {
	if limit <= 0 {
		return nil, nil
	}

	var records []database.CommandRecord
	err := s.db.
		Where("target_id = ? AND session_id = ?", targetID, sessionID).
		Order("id DESC").
		Limit(limit).
		Find(&records).Error
	if err != nil {
		return nil, fmt.Errorf("query command records: %w", err)
	}

	// Reverse into ascending creation order.
	for i, j := 0, len(records)-1; i < j; i, j = i+1, j-1 {
		records[i], records[j] = records[j], records[i]
	}
	return records, nil
}

// SetCurrentSession points the target at the given logical session. The
// operation is idempotent and touches only the pointer row; existing records
// are never rewritten.
func (s *Store) SetCurrentSession(targetID uint, sessionID string) error {
	if sessionID == "" {
		return fmt.Errorf("set current session: empty session id")
	}
	err := s.db.
		Where("target_id = ?", targetID).
		Assign(database.TargetSession{SessionID: sessionID}).
		FirstOrCreate(&database.TargetSession{TargetID: targetID}).Error
	if err != nil {
		return fmt.Errorf("set current session: %w", err)
	}
	return nil
}

// CurrentSession returns the target's current logical session identifier.
// The second return value is false when no session has been set.
func (s *Store) CurrentSession(targetID uint) (string, bool, error) {
	var ts database.TargetSession
	err := s.db.Where("target_id = ?", targetID).First(&ts).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return "", false, nil
		}
		return "", false, fmt.Errorf("current session: %w", err)
	}
	return ts.SessionID, true, nil
}
