package database

import "time"

// Target is a registered remote host reachable over SSH. Credential fields
// are Fernet-encrypted at rest; use the registry package to obtain decrypted
// connection parameters. Rows are managed by the surrounding application,
// this subsystem only reads them.
type Target struct {
	ID         uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	Name       string    `gorm:"uniqueIndex;not null" json:"name"`
	Host       string    `gorm:"not null" json:"host"`
	Port       int       `gorm:"not null;default:22" json:"port"`
	Username   string    `gorm:"not null;default:root" json:"username"`
	AuthMethod string    `gorm:"not null;default:password" json:"auth_method"` // "password" or "key"
	Password   string    `json:"-"`                                            // Fernet-encrypted
	PrivateKey string    `gorm:"type:text" json:"-"`                           // Fernet-encrypted PEM
	CreatedAt  time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt  time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// CommandRecord is one completed (command, output) pair attributed to a
// target and a logical session. Records are append-only: they are created by
// the boundary detector, never updated, and removed only when their target is
// deleted.
type CommandRecord struct {
	ID        uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	TargetID  uint      `gorm:"not null;index:idx_target_session" json:"target_id"`
	SessionID string    `gorm:"index:idx_target_session;size:64;not null;default:''" json:"session_id"`
	Command   string    `gorm:"type:text;not null" json:"command"`
	Output    string    `gorm:"type:text" json:"output"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
}

// TargetSession holds the current logical session pointer for a target.
// At most one row per target; updated only via history.Store.SetCurrentSession.
type TargetSession struct {
	TargetID  uint      `gorm:"primaryKey" json:"target_id"`
	SessionID string    `gorm:"size:64;not null" json:"session_id"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

type Setting struct {
	Key       string    `gorm:"primaryKey" json:"key"`
	Value     string    `gorm:"not null" json:"value"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}
