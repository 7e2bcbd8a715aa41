// Package tenant provides per-tenant settings consumed by the dispatcher.
package tenant

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"
)

// DefaultNotFoundMessage is sent when a tenant has no custom message.
const DefaultNotFoundMessage = "❗ Command not found"

// Settings looks up tenant preferences.
type Settings interface {
	NotFoundMessage(tenantID string) string
}

// Preferences is one tenant's entry in the settings file.
type Preferences struct {
	NotFoundMessage string `json:"notFoundMessage,omitempty"`
}

// FileStore reads tenant preferences from a JSON object keyed by tenant id.
type FileStore struct {
	path string

	mu    sync.RWMutex
	prefs map[string]Preferences
}

// NewFileStore creates a store for path. Call Load before use.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path, prefs: make(map[string]Preferences)}
}

// Load (re)reads the settings file. A missing file means no overrides.
func (s *FileStore) Load() error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			s.set(make(map[string]Preferences))
			return nil
		}
		return fmt.Errorf("read tenant settings: %w", err)
	}
	prefs := make(map[string]Preferences)
	if err := json.Unmarshal(data, &prefs); err != nil {
		return fmt.Errorf("parse tenant settings: %w", err)
	}
	s.set(prefs)
	return nil
}

func (s *FileStore) set(prefs map[string]Preferences) {
	s.mu.Lock()
	s.prefs = prefs
	s.mu.Unlock()
}

// NotFoundMessage returns the tenant's message or the default.
func (s *FileStore) NotFoundMessage(tenantID string) string {
	s.mu.RLock()
	p, ok := s.prefs[tenantID]
	s.mu.RUnlock()
	if !ok || strings.TrimSpace(p.NotFoundMessage) == "" {
		return DefaultNotFoundMessage
	}
	return p.NotFoundMessage
}

// Static is an in-memory Settings keyed by tenant id.
type Static map[string]Preferences

func (s Static) NotFoundMessage(tenantID string) string {
	if p, ok := s[tenantID]; ok && strings.TrimSpace(p.NotFoundMessage) != "" {
		return p.NotFoundMessage
	}
	return DefaultNotFoundMessage
}
