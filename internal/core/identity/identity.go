// Package identity supplies the stable per-install remote identifier that
// names this instance's namespace in the remote mirror.
package identity

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// Provider yields the remote id for this install. Implementations must
// return the same id across calls and process restarts.
type Provider interface {
	RemoteID() (string, error)
}

const (
	idFileName = "remote_id"
	idLength   = 8
)

// FileProvider persists the remote id in a small file under a directory,
// minting it from a random UUID on first use.
type FileProvider struct {
	dir string
}

var _ Provider = (*FileProvider)(nil)

func NewFileProvider(dir string) *FileProvider {
	return &FileProvider{dir: dir}
}

func (p *FileProvider) RemoteID() (string, error) {
	path := filepath.Join(p.dir, idFileName)

	data, err := os.ReadFile(path)
	if err == nil {
		id := strings.TrimSpace(string(data))
		if id != "" {
			return id, nil
		}
	} else if !os.IsNotExist(err) {
		return "", fmt.Errorf("read remote id: %w", err)
	}

	id := uuid.NewString()[:idLength]
	if err := os.MkdirAll(p.dir, 0o700); err != nil {
		return "", fmt.Errorf("create identity dir: %w", err)
	}
	if err := os.WriteFile(path, []byte(id), 0o600); err != nil {
		return "", fmt.Errorf("persist remote id: %w", err)
	}
	return id, nil
}

// Static is a fixed-id provider for tests and tooling.
type Static string

var _ Provider = Static("")

func (s Static) RemoteID() (string, error) {
	return string(s), nil
}
