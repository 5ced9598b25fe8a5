// Package artifact provides a content-addressed store for binary artifact
// payloads. Artifacts are written once and never mutated; putting the same
// bytes twice is a no-op returning the same ID.
package artifact

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/billscan/billscan/internal/model"
)

// Store persists artifact payloads addressed by content digest.
type Store interface {
	Put(payload []byte, kind model.ArtifactKind) (model.ArtifactID, error)
	Get(id model.ArtifactID) ([]byte, error)
	Exists(id model.ArtifactID) bool
}

// FSStore is a filesystem-backed Store. Payloads live under
// <dir>/<kind>/<first two hex chars>/<digest>.
type FSStore struct {
	dir string
}

// NewFSStore creates the store root if needed.
func NewFSStore(dir string) (*FSStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, eris.Wrapf(err, "artifact: create dir %s", dir)
	}
	return &FSStore{dir: dir}, nil
}

func (s *FSStore) path(id model.ArtifactID) (string, error) {
	kind, digest, ok := strings.Cut(string(id), ":")
	if !ok || digest == "" {
		return "", eris.Errorf("artifact: malformed id %q", id)
	}
	if len(digest) < 2 {
		return "", eris.Errorf("artifact: short digest in id %q", id)
	}
	return filepath.Join(s.dir, kind, digest[:2], digest), nil
}

// Put stores the payload and returns its content-addressed ID. Idempotent:
// an existing payload is left untouched.
func (s *FSStore) Put(payload []byte, kind model.ArtifactKind) (model.ArtifactID, error) {
	id := model.NewArtifactID(kind, payload)
	p, err := s.path(id)
	if err != nil {
		return "", err
	}
	if _, statErr := os.Stat(p); statErr == nil {
		return id, nil
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return "", eris.Wrap(err, "artifact: mkdir")
	}
	// Write via a temp file and rename so readers never observe a partial
	// payload.
	tmp, err := os.CreateTemp(filepath.Dir(p), ".put-*")
	if err != nil {
		return "", eris.Wrap(err, "artifact: create temp")
	}
	if _, err := tmp.Write(payload); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", eris.Wrap(err, "artifact: write payload")
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", eris.Wrap(err, "artifact: close temp")
	}
	if err := os.Rename(tmp.Name(), p); err != nil {
		os.Remove(tmp.Name())
		return "", eris.Wrap(err, "artifact: rename")
	}
	return id, nil
}

// Get returns the payload for the given ID.
func (s *FSStore) Get(id model.ArtifactID) ([]byte, error) {
	p, err := s.path(id)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(p)
	if err != nil {
		return nil, eris.Wrapf(err, "artifact: read %s", id)
	}
	return data, nil
}

// Exists reports whether the payload is present.
func (s *FSStore) Exists(id model.ArtifactID) bool {
	p, err := s.path(id)
	if err != nil {
		return false
	}
	_, statErr := os.Stat(p)
	return statErr == nil
}
