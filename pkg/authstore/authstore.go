// Package authstore is the broker's on-disk credential store: a thin,
// unlocked key-value blob store keyed by remote-server fingerprint and
// blob name, rooted under the user's mcp-auth config directory.
package authstore

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// Version is embedded in the config directory name so that incompatible
// on-disk layouts from a future release never collide with this one.
const Version = "0.1.0"

// ErrNotFound is returned by Get when the named blob does not exist. A
// missing blob is an expected, routine condition, never a failure.
var ErrNotFound = errors.New("authstore: not found")

// Store is a directory-backed blob store. The zero value is not usable;
// construct one with New.
type Store struct {
	dir string
}

// New resolves the config directory root (MCP_REMOTE_CONFIG_DIR, falling
// back to $HOME/.mcp-auth) and returns a Store rooted at
// "<root>/mcp-remote-<version>". The directory is not created until the
// first Put.
func New() (*Store, error) {
	root := os.Getenv("MCP_REMOTE_CONFIG_DIR")
	if root == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("authstore: resolve home directory: %w", err)
		}
		root = filepath.Join(home, ".mcp-auth")
	}
	return &Store{dir: filepath.Join(root, "mcp-remote-"+Version)}, nil
}

// NewAt returns a Store rooted directly at dir, bypassing environment
// resolution. Used by tests and by callers that already know the root.
func NewAt(dir string) *Store {
	return &Store{dir: dir}
}

// Dir returns the store's root directory.
func (s *Store) Dir() string {
	return s.dir
}

func (s *Store) path(fingerprint, name string) string {
	return filepath.Join(s.dir, fingerprint+"_"+name)
}

// Get returns the raw bytes of the named blob for fingerprint, or
// ErrNotFound if it does not exist.
func (s *Store) Get(fingerprint, name string) ([]byte, error) {
	data, err := os.ReadFile(s.path(fingerprint, name))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("authstore: read %s/%s: %w", fingerprint, name, err)
	}
	return data, nil
}

// GetJSON reads and unmarshals the named blob into v. Returns ErrNotFound
// under the same condition as Get.
func (s *Store) GetJSON(fingerprint, name string, v any) error {
	data, err := s.Get(fingerprint, name)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("authstore: parse %s/%s: %w", fingerprint, name, err)
	}
	return nil
}

// Put writes raw bytes to the named blob, creating the store directory if
// necessary. Concurrent writers to the same key may race; callers needing
// exclusivity must serialize externally (see pkg/coordinator).
func (s *Store) Put(fingerprint, name string, data []byte) error {
	if err := os.MkdirAll(s.dir, 0o700); err != nil {
		return fmt.Errorf("authstore: create store directory: %w", err)
	}
	if err := os.WriteFile(s.path(fingerprint, name), data, 0o600); err != nil {
		return fmt.Errorf("authstore: write %s/%s: %w", fingerprint, name, err)
	}
	return nil
}

// PutJSON marshals v with two-space indentation (human-inspectable) and
// writes it via Put.
func (s *Store) PutJSON(fingerprint, name string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("authstore: marshal %s/%s: %w", fingerprint, name, err)
	}
	return s.Put(fingerprint, name, data)
}

// Delete removes the named blob. Deleting an absent blob is not an error.
func (s *Store) Delete(fingerprint, name string) error {
	if err := os.Remove(s.path(fingerprint, name)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("authstore: delete %s/%s: %w", fingerprint, name, err)
	}
	return nil
}

// Fingerprint returns the lowercase-hex MD5 digest of serverURL, the sole
// key under which all state for that remote is persisted.
func Fingerprint(serverURL string) string {
	return fingerprintMD5(serverURL)
}

// DefaultCallbackPort derives the default loopback callback port from a
// fingerprint: 3335 + (first 16 bits of the digest mod 45816).
func DefaultCallbackPort(fingerprint string) (int, error) {
	first16, err := firstUint16(fingerprint)
	if err != nil {
		return 0, fmt.Errorf("authstore: decode fingerprint: %w", err)
	}
	return 3335 + int(first16)%45816, nil
}
