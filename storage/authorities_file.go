// Package storage provides the on-disk and LevelDB-backed
// implementations of the chain index interfaces.
package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/hyperchain-net/hyperchain/crypto"
)

// AuthoritiesFile manages a single text file with one Base64 authority
// per line. Mutations rewrite the file atomically; concurrent callers
// serialize at the store boundary.
type AuthoritiesFile struct {
	mu   sync.Mutex
	path string
}

// OpenAuthoritiesFile opens or creates the authorities file at path.
func OpenAuthoritiesFile(path string) (*AuthoritiesFile, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create authorities dir: %w", err)
		}
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := os.WriteFile(path, nil, 0o644); err != nil {
			return nil, fmt.Errorf("create authorities file: %w", err)
		}
	} else if err != nil {
		return nil, err
	}
	return &AuthoritiesFile{path: path}, nil
}

func (a *AuthoritiesFile) read() ([]crypto.PublicKey, error) {
	data, err := os.ReadFile(a.path)
	if err != nil {
		return nil, fmt.Errorf("read authorities: %w", err)
	}
	var authorities []crypto.PublicKey
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		pub, err := crypto.PublicKeyFromBase64(line)
		if err != nil {
			continue // skip unparseable lines instead of poisoning the set
		}
		authorities = append(authorities, pub)
	}
	return authorities, nil
}

func (a *AuthoritiesFile) write(authorities []crypto.PublicKey) error {
	var sb strings.Builder
	for _, pub := range authorities {
		sb.WriteString(pub.Base64())
		sb.WriteByte('\n')
	}
	return atomicWriteFile(a.path, []byte(sb.String()))
}

// GetAll returns every authority in the set.
func (a *AuthoritiesFile) GetAll() ([]crypto.PublicKey, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.read()
}

// Insert adds pub to the set. Returns true iff it was newly added.
func (a *AuthoritiesFile) Insert(pub crypto.PublicKey) (bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	authorities, err := a.read()
	if err != nil {
		return false, err
	}
	for _, existing := range authorities {
		if existing.Equal(pub) {
			return false, nil
		}
	}
	authorities = append(authorities, pub)
	if err := a.write(authorities); err != nil {
		return false, err
	}
	return true, nil
}

// Delete removes pub from the set. Returns true iff it existed.
func (a *AuthoritiesFile) Delete(pub crypto.PublicKey) (bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	authorities, err := a.read()
	if err != nil {
		return false, err
	}
	filtered := authorities[:0]
	for _, existing := range authorities {
		if !existing.Equal(pub) {
			filtered = append(filtered, existing)
		}
	}
	if len(filtered) == len(authorities) {
		return false, nil
	}
	if err := a.write(filtered); err != nil {
		return false, err
	}
	return true, nil
}

// Contains reports whether pub is an authority.
func (a *AuthoritiesFile) Contains(pub crypto.PublicKey) (bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	authorities, err := a.read()
	if err != nil {
		return false, err
	}
	for _, existing := range authorities {
		if existing.Equal(pub) {
			return true, nil
		}
	}
	return false, nil
}

// atomicWriteFile writes data to a sibling temp file and renames it over
// path, so readers never observe a partially written file.
func atomicWriteFile(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return err
	}
	return nil
}
