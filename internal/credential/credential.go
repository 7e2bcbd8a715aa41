// Package credential reads the startup credential file and derives the
// registry token of each stored credential.
package credential

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-playground/validator/v10"
)

var (
	// ErrCredentialsMissing means the credential file did not exist.
	// A placeholder has been written in its place.
	ErrCredentialsMissing = errors.New("credentials file missing")
	// ErrNoCredentials means the credential file holds no entries.
	ErrNoCredentials = errors.New("credentials file has no entries")
)

var validate = validator.New()

// Entry is one stored bot credential.
type Entry struct {
	TenantID            string          `json:"tenantId" validate:"required,max=128,excludesall=/"`
	AuthState           json.RawMessage `json:"authState"`
	Prefix              string          `json:"prefix,omitempty" validate:"omitempty,max=16"`
	CooldownSeconds     *int            `json:"cooldownSeconds,omitempty" validate:"omitempty,gte=0,lte=86400"`
	CommandSourcePolicy string          `json:"commandSourcePolicy,omitempty" validate:"omitempty,oneof=system user both"`
	DisplayName         string          `json:"displayName,omitempty" validate:"omitempty,max=64"`
}

// Defaults fill in optional entry fields.
type Defaults struct {
	Prefix          string
	CooldownSeconds int
	CommandSource   string
}

// ApplyDefaults fills every unset optional field.
func (e *Entry) ApplyDefaults(d Defaults) {
	if e.Prefix == "" {
		e.Prefix = d.Prefix
	}
	if e.Prefix == "" {
		e.Prefix = "/"
	}
	if e.CooldownSeconds == nil {
		cd := d.CooldownSeconds
		e.CooldownSeconds = &cd
	}
	if e.CommandSourcePolicy == "" {
		e.CommandSourcePolicy = d.CommandSource
	}
	if e.CommandSourcePolicy == "" {
		e.CommandSourcePolicy = "both"
	}
	if e.DisplayName == "" {
		e.DisplayName = "bot_" + e.TenantID
	}
}

// Cooldown returns the configured cooldown in seconds.
func (e *Entry) Cooldown() int {
	if e.CooldownSeconds == nil {
		return 0
	}
	return *e.CooldownSeconds
}

// Validate checks field constraints and that authState is a non-null payload.
func (e *Entry) Validate() error {
	if err := validate.Struct(e); err != nil {
		return err
	}
	trimmed := bytes.TrimSpace(e.AuthState)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return errors.New("authState is required")
	}
	if !json.Valid(trimmed) {
		return errors.New("authState is not valid JSON")
	}
	if strings.TrimSpace(e.Prefix) != e.Prefix {
		return errors.New("prefix must not contain leading or trailing whitespace")
	}
	return nil
}

// Load reads and validates the credential file at path. When the file is
// absent an empty placeholder is created and ErrCredentialsMissing returned.
func Load(path string, d Defaults) ([]Entry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			if perr := WritePlaceholder(path); perr != nil {
				return nil, fmt.Errorf("%w: %s (placeholder not written: %v)", ErrCredentialsMissing, path, perr)
			}
			return nil, fmt.Errorf("%w: created empty %s", ErrCredentialsMissing, path)
		}
		return nil, fmt.Errorf("read credentials: %w", err)
	}

	var entries []Entry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("parse credentials %s: %w", path, err)
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoCredentials, path)
	}

	var errs []string
	for i := range entries {
		entries[i].ApplyDefaults(d)
		if err := entries[i].Validate(); err != nil {
			errs = append(errs, fmt.Sprintf("entry %d (tenant %q): %s", i, entries[i].TenantID, err))
		}
	}
	if len(errs) > 0 {
		return nil, fmt.Errorf("invalid credentials in %s:\n  - %s", path, strings.Join(errs, "\n  - "))
	}
	return entries, nil
}

// WritePlaceholder writes an empty credential list to path.
func WritePlaceholder(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	return os.WriteFile(path, []byte("[]\n"), 0o600)
}

// Token derives the registry key of an auth payload. Payloads that differ
// only in key order or whitespace map to the same token.
func Token(authState json.RawMessage) (string, error) {
	dec := json.NewDecoder(bytes.NewReader(authState))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return "", fmt.Errorf("decode authState: %w", err)
	}
	canonical, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("encode authState: %w", err)
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}

// ShortToken abbreviates a token for display.
func ShortToken(token string) string {
	if len(token) <= 12 {
		return token
	}
	return token[:12]
}
