// Package registry provides read-only access to registered targets.
//
// Target rows are owned by the surrounding application; this subsystem only
// resolves them into connection parameters, decrypting credentials on the way
// out. No write operations are exposed here.
package registry

import (
	"fmt"

	"github.com/shellpilot/shellpilot/internal/crypto"
	"github.com/shellpilot/shellpilot/internal/database"
)

// ResolvedTarget is a Target with credentials decrypted, ready to hand to the
// SSH connection manager. It is never persisted.
type ResolvedTarget struct {
	ID         uint
	Name       string
	Host       string
	Port       int
	Username   string
	AuthMethod string
	Password   string
	PrivateKey []byte
}

// Lookup resolves a target by ID and decrypts its credentials.
func Lookup(id uint) (*ResolvedTarget, error) {
	var t database.Target
	if err := database.DB.First(&t, id).Error; err != nil {
		return nil, fmt.Errorf("lookup target %d: %w", id, err)
	}
	return resolve(&t)
}

func resolve(t *database.Target) (*ResolvedTarget, error) {
	rt := &ResolvedTarget{
		ID:         t.ID,
		Name:       t.Name,
		Host:       t.Host,
		Port:       t.Port,
		Username:   t.Username,
		AuthMethod: t.AuthMethod,
	}

	switch t.AuthMethod {
	case "password":
		pw, err := crypto.Decrypt(t.Password)
		if err != nil {
			return nil, fmt.Errorf("decrypt password for target %d: %w", t.ID, err)
		}
		rt.Password = pw
	case "key":
		pem, err := crypto.Decrypt(t.PrivateKey)
		if err != nil {
			return nil, fmt.Errorf("decrypt private key for target %d: %w", t.ID, err)
		}
		rt.PrivateKey = []byte(pem)
	default:
		return nil, fmt.Errorf("target %d: unknown auth method %q", t.ID, t.AuthMethod)
	}

	return rt, nil
}
