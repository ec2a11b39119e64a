// Package sshconn manages SSH connections to registered targets.
//
// It maintains a pool of active SSH clients keyed by target ID so that
// multiple terminal sessions to the same target share one transport, and runs
// periodic keepalive checks that evict dead connections from the pool.
// Connection failures surface as typed errors ([AuthError], [DialError]);
// callers decide whether to report them to the user.
package sshconn

import (
	"context"
	"fmt"
	"log"
	"net"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/shellpilot/shellpilot/internal/logutil"
	"github.com/shellpilot/shellpilot/internal/registry"
)

// Default keepalive interval for pooled SSH connections.
const defaultKeepaliveInterval = 30 * time.Second

// Manager holds pooled SSH clients keyed by target ID.
type Manager struct {
	mu      sync.RWMutex
	clients map[uint]*ssh.Client

	keepaliveCtx    context.Context
	keepaliveCancel context.CancelFunc
	keepaliveWg     sync.WaitGroup
}

// NewManager creates a Manager and starts its keepalive loop.
func NewManager() *Manager {
	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		clients:         make(map[uint]*ssh.Client),
		keepaliveCtx:    ctx,
		keepaliveCancel: cancel,
	}
	m.keepaliveWg.Add(1)
	go m.keepaliveLoop()
	return m
}

// EnsureConnected returns a pooled SSH client for the target, dialing a new
// connection when none exists.
func (m *Manager) EnsureConnected(ctx context.Context, t *registry.ResolvedTarget) (*ssh.Client, error) {
	m.mu.RLock()
	client, ok := m.clients[t.ID]
	m.mu.RUnlock()
	if ok {
		return client, nil
	}
	return m.Connect(ctx, t)
}

// Connect dials the target and stores the client in the pool, replacing and
// closing any previous connection for the same target.
func (m *Manager) Connect(ctx context.Context, t *registry.ResolvedTarget) (*ssh.Client, error) {
	if t.Host == "" {
		return nil, fmt.Errorf("connect: target %d has no host", t.ID)
	}
	if t.Port <= 0 || t.Port > 65535 {
		return nil, fmt.Errorf("connect: invalid port %d", t.Port)
	}

	auth, err := authMethods(t)
	if err != nil {
		return nil, err
	}

	config := &ssh.ClientConfig{
		User:            t.Username,
		Auth:            auth,
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         10 * time.Second,
	}

	addr := net.JoinHostPort(t.Host, fmt.Sprintf("%d", t.Port))

	// Use context for connection timeout
	var client *ssh.Client
	dialDone := make(chan struct{})
	var dialErr error

	go func() {
		defer close(dialDone)
		client, dialErr = ssh.Dial("tcp", addr, config)
	}()

	select {
	case <-ctx.Done():
		return nil, &DialError{Target: t.Name, Addr: addr, Err: ctx.Err()}
	case <-dialDone:
		if dialErr != nil {
			return nil, classifyDialErr(t.Name, addr, dialErr)
		}
	}

	m.mu.Lock()
	if old, ok := m.clients[t.ID]; ok && old != nil {
		old.Close()
	}
	m.clients[t.ID] = client
	m.mu.Unlock()

	log.Printf("[ssh] connected to %s at %s", logutil.SanitizeForLog(t.Name), logutil.SanitizeForLog(addr))
	return client, nil
}

func authMethods(t *registry.ResolvedTarget) ([]ssh.AuthMethod, error) {
	switch t.AuthMethod {
	case "password":
		return []ssh.AuthMethod{ssh.Password(t.Password)}, nil
	case "key":
		signer, err := ssh.ParsePrivateKey(t.PrivateKey)
		if err != nil {
			return nil, fmt.Errorf("connect: parse private key: %w", err)
		}
		return []ssh.AuthMethod{ssh.PublicKeys(signer)}, nil
	default:
		return nil, fmt.Errorf("connect: unknown auth method %q", t.AuthMethod)
	}
}

// GetConnection returns the pooled SSH client for a target and whether it exists.
func (m *Manager) GetConnection(targetID uint) (*ssh.Client, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	client, ok := m.clients[targetID]
	return client, ok
}

// Close terminates and removes the connection for a single target.
func (m *Manager) Close(targetID uint) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if client, ok := m.clients[targetID]; ok {
		client.Close()
		delete(m.clients, targetID)
	}
}

// CloseAll stops the keepalive loop and closes every pooled connection.
func (m *Manager) CloseAll() {
	m.keepaliveCancel()
	m.keepaliveWg.Wait()

	m.mu.Lock()
	defer m.mu.Unlock()
	for id, client := range m.clients {
		client.Close()
		delete(m.clients, id)
	}
}

// keepaliveLoop periodically sends SSH keepalive requests on pooled
// connections and drops the ones that fail.
func (m *Manager) keepaliveLoop() {
	defer m.keepaliveWg.Done()
	ticker := time.NewTicker(defaultKeepaliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.keepaliveCtx.Done():
			return
		case <-ticker.C:
			m.checkConnections()
		}
	}
}

func (m *Manager) checkConnections() {
	m.mu.RLock()
	snapshot := make(map[uint]*ssh.Client, len(m.clients))
	for id, c := range m.clients {
		snapshot[id] = c
	}
	m.mu.RUnlock()

	for id, client := range snapshot {
		if _, _, err := client.SendRequest("keepalive@openssh.com", true, nil); err != nil {
			log.Printf("[ssh] keepalive failed for target %d: %v", id, err)
			m.Close(id)
		}
	}
}
